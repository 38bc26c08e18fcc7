package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/hadith-search/internal/corpus"
	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound            = -32001 // No document carries the reference
	ErrorCodeIngestionInProgress = -32002 // Another ingestion run is already active
	ErrorCodeTimeout             = -32003 // Retrieval exceeded its deadline
	ErrorCodeIndexUnavailable    = -32004 // A store could not be reached
)

// maxReportedErrors caps the per-record errors echoed back to the client
const maxReportedErrors = 5

// handleSearchHadith handles the search_hadith tool invocation
func (s *Server) handleSearchHadith(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or not a string",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	collections, err := getStringSlice(args, "collections")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid collections", map[string]interface{}{
			"param":  "collections",
			"reason": err.Error(),
		})
	}

	filters := &searcher.Filters{
		Collections: collections,
		MinGrade:    getStringDefault(args, "min_grade", ""),
		Preset:      getStringDefault(args, "preset", ""),
	}

	resp, err := s.searcher.Search(ctx, query, limit, filters)
	if err != nil {
		return nil, s.toolError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for i := range resp.Results {
		results = append(results, formatResult(i+1, &resp.Results[i]))
	}

	response := map[string]interface{}{
		"query":            resp.Query,
		"intent":           resp.Intent.String(),
		"preset":           resp.Preset,
		"total_candidates": resp.TotalCandidates,
		"vector_results":   resp.VectorResults,
		"text_results":     resp.TextResults,
		"duration_ms":      resp.Duration.Milliseconds(),
		"cache_hit":        resp.CacheHit,
		"results":          results,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleLookupReference handles the lookup_reference tool invocation
func (s *Server) handleLookupReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, ok := args["reference"].(string)
	if !ok || strings.TrimSpace(ref) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "reference parameter is required", map[string]interface{}{
			"param":  "reference",
			"reason": "missing or empty",
		})
	}

	result, err := s.searcher.LookupExact(ctx, ref)
	if err != nil {
		return nil, s.toolError("lookup failed", err)
	}

	return mcp.NewToolResultText(formatJSON(formatResult(1, result))), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.searcher.IndexStatus(ctx)
	if err != nil {
		return nil, s.toolError("failed to get index status", err)
	}

	response := map[string]interface{}{
		"lexical": map[string]interface{}{
			"document_count": status.Lexical.DocumentCount,
			"last_updated":   status.Lexical.LastUpdated.Format("2006-01-02T15:04:05Z07:00"),
			"schema_version": status.Lexical.SchemaVersion,
		},
		"vector": map[string]interface{}{
			"dimension":      status.Vector.Dimension,
			"document_count": status.Vector.DocumentCount,
			"build_mode":     status.Vector.BuildMode,
		},
		"checksum_count":     status.Checksums,
		"embedder":           status.Embedder,
		"ingestion_running":  s.pipeline.Running(),
		"weight_presets":     s.searcher.Presets(),
		"indexes_consistent": status.Lexical.DocumentCount == status.Vector.DocumentCount,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestRecords handles the ingest_records tool invocation
func (s *Server) handleIngestRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	force := getBoolDefault(args, "force", false)

	src := corpus.OpenFiles(path)
	defer func() { _ = src.Close() }()

	report, err := s.pipeline.Ingest(ctx, src, &indexer.Options{Force: force})
	if report != nil && report.Inserted > 0 {
		s.searcher.InvalidateCache()
	}
	if err != nil {
		mcpErr := s.toolError("ingestion failed", err)
		if report != nil {
			var e *MCPError
			if errors.As(mcpErr, &e) {
				e.Data = formatReport(report)
			}
		}
		return nil, mcpErr
	}

	return mcp.NewToolResultText(formatJSON(formatReport(report))), nil
}

// Helper functions

// toolError maps a core error onto an MCP error code
func (s *Server) toolError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidArgument), errors.Is(err, types.ErrValidation):
		code = ErrorCodeInvalidParams
	case errors.Is(err, searcher.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, indexer.ErrIngestionInProgress):
		code = ErrorCodeIngestionInProgress
	case errors.Is(err, types.ErrRetrievalTimeout):
		code = ErrorCodeTimeout
	case errors.Is(err, types.ErrIndexUnavailable):
		code = ErrorCodeIndexUnavailable
	}
	if code == ErrorCodeInternalError {
		s.logger.Error(message, "error", err)
	} else {
		s.logger.Debug(message, "error", err, "code", code)
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// formatResult flattens a scored result for the client
func formatResult(rank int, r *types.ScoredResult) map[string]interface{} {
	out := map[string]interface{}{
		"rank":         rank,
		"id":           r.ID,
		"score":        r.Score,
		"breakdown":    r.Breakdown,
		"intent":       r.Intent.String(),
		"reference":    r.Locator.GlobalRef,
		"collection":   r.Locator.Collection,
		"narrator":     r.Narrator,
		"grading":      r.Grading,
		"text_arabic":  r.TextPrimary,
		"text_english": r.TextSecondary,
		"source_uri":   r.SourceURI,
	}
	if r.Locator.Kind == types.KindTafsir {
		out["surah"] = r.Locator.Surah
		out["ayah"] = r.Locator.Ayah
	} else {
		out["book_id"] = r.Locator.BookID
		out["hadith_number"] = r.Locator.HadithNumber
	}
	return out
}

// formatReport renders an ingestion report, truncating the error list
func formatReport(report *indexer.Report) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":            report.RunID,
		"inserted":          report.Inserted,
		"skipped_unchanged": report.SkippedUnchanged,
		"failed":            report.Failed,
		"duration_ms":       report.Duration.Milliseconds(),
	}
	if errorCount := len(report.Errors); errorCount > 0 {
		if errorCount > maxReportedErrors {
			response["errors"] = report.Errors[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = report.Errors
		}
	}
	return response
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path names a readable corpus file
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if info.IsDir() {
		return ErrIsDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain only strings", key)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrIsDirectory     = errors.New("path is a directory, want a JSON Lines file")
)
