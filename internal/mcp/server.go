package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "hadith-search"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher *searcher.Searcher
	pipeline *indexer.Pipeline
	logger   *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger used for tool calls and transport errors
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP server instance. The searcher and the pipeline
// must share their indexes and embedder; the caller owns their lifetimes.
func NewServer(srch *searcher.Searcher, pipeline *indexer.Pipeline, opts ...Option) (*Server, error) {
	if srch == nil || pipeline == nil {
		return nil, fmt.Errorf("%w: searcher and pipeline are required", types.ErrInvalidArgument)
	}

	s := &Server{
		searcher: srch,
		pipeline: pipeline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve runs the MCP protocol over in/out until ctx is done or in is closed.
// Nothing but protocol messages may be written to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening", "name", ServerName, "version", ServerVersion)
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchHadithTool(), s.handleSearchHadith)
	s.mcp.AddTool(lookupReferenceTool(), s.handleLookupReference)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(ingestRecordsTool(), s.handleIngestRecords)
	return nil
}
