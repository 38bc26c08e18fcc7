package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dshills/hadith-search/internal/checksum"
	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/internal/storage"
	"github.com/dshills/hadith-search/pkg/types"
)

const testDim = 32

// ServerTestSuite drives the tool handlers against in-memory indexes
type ServerTestSuite struct {
	suite.Suite
	server    *Server
	pipeline  *indexer.Pipeline
	closers   []func() error
	corpusDir string
	ctx       context.Context
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

// SetupTest builds a fresh server for each test
func (s *ServerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.corpusDir = s.T().TempDir()

	lex, err := storage.NewLexicalIndex(":memory:")
	s.Require().NoError(err)
	vec, err := storage.NewVectorIndex(":memory:", testDim)
	s.Require().NoError(err)
	cs, err := checksum.Open("", nil)
	s.Require().NoError(err)
	emb, err := embedder.NewLocalProvider(testDim, nil)
	s.Require().NoError(err)
	s.closers = []func() error{lex.Close, vec.Close, cs.Close}

	srch, err := searcher.New(lex, vec, emb, searcher.WithChecksums(cs))
	s.Require().NoError(err)
	s.pipeline, err = indexer.New(lex, vec, cs, emb, indexer.WithPoolSize(2))
	s.Require().NoError(err)

	s.server, err = NewServer(srch, s.pipeline)
	s.Require().NoError(err)
}

// TearDownTest releases the pool and closes the stores
func (s *ServerTestSuite) TearDownTest() {
	s.pipeline.Release()
	for _, c := range s.closers {
		_ = c()
	}
}

func strPtr(v string) *string { return &v }

func (s *ServerTestSuite) writeCorpus(name string, lines ...string) string {
	path := filepath.Join(s.corpusDir, name)
	s.Require().NoError(os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func (s *ServerTestSuite) recordLine(rec *types.RawRecord) string {
	data, err := json.Marshal(rec)
	s.Require().NoError(err)
	return string(data)
}

func (s *ServerTestSuite) hadithLine(site, english, narrator, grade string) string {
	return s.recordLine(&types.RawRecord{
		CollectionSlug:  "riyadussalihin",
		CollectionName:  "Riyad as-Salihin",
		BookID:          "1",
		HadithIDSite:    site,
		HadithNumGlobal: site,
		Texts:           []types.TextBlock{{Language: "en", Content: english}},
		Narrator:        strPtr(narrator),
		Grading:         []types.Grade{{Grade: grade}},
		SourceURL:       "https://sunnah.com/riyadussalihin:" + site,
	})
}

func (s *ServerTestSuite) seedCorpus() string {
	return s.writeCorpus("corpus.jsonl",
		s.hadithLine("680", "The strong man is the one who controls himself when angry", "Abu Hurairah", "Sahih"),
		s.hadithLine("681", "Patience is illumination", "Abu Malik al-Ash'ari", "Sahih"),
		s.hadithLine("682", "Do not become angry", "Abu Hurairah", "Hasan"),
		s.recordLine(&types.RawRecord{Surah: 2, Ayah: 153, ResourceName: "Tafsir Ibn Kathir", TextPlain: "Seek help through patience and prayer"}),
	)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// decode unmarshals the single text payload of a tool result
func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	var text string
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content type %T", result.Content[0])
	}

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "want *MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
	return mcpErr
}

func (s *ServerTestSuite) ingest(path string, force bool) map[string]interface{} {
	res, err := s.server.handleIngestRecords(s.ctx, callRequest("ingest_records", map[string]interface{}{
		"path":  path,
		"force": force,
	}))
	s.Require().NoError(err)
	return decode(s.T(), res)
}

func (s *ServerTestSuite) TestNewServerValidation() {
	_, err := NewServer(nil, s.pipeline)
	s.ErrorIs(err, types.ErrInvalidArgument)
}

func (s *ServerTestSuite) TestToolsAreRegistered() {
	msg := s.server.mcp.HandleMessage(s.ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	s.Require().NoError(err)

	for _, name := range []string{"search_hadith", "lookup_reference", "index_status", "ingest_records"} {
		s.Contains(string(data), `"`+name+`"`)
	}
}

func (s *ServerTestSuite) TestIngestRecords() {
	path := s.seedCorpus()

	report := s.ingest(path, false)
	s.Equal(float64(4), report["inserted"])
	s.Equal(float64(0), report["failed"])
	s.NotEmpty(report["run_id"])

	again := s.ingest(path, false)
	s.Equal(float64(0), again["inserted"])
	s.Equal(float64(4), again["skipped_unchanged"])

	forced := s.ingest(path, true)
	s.Equal(float64(4), forced["inserted"])
}

func (s *ServerTestSuite) TestIngestReportsBadLines() {
	path := s.writeCorpus("mixed.jsonl",
		s.hadithLine("680", "The strong man controls himself", "Abu Hurairah", "Sahih"),
		`{"collection_slug": `,
		s.recordLine(&types.RawRecord{CollectionSlug: "bukhari"}),
	)

	report := s.ingest(path, false)
	s.Equal(float64(1), report["inserted"])
	s.Equal(float64(2), report["failed"])
	s.Len(report["errors"], 2)
}

func (s *ServerTestSuite) TestIngestValidation() {
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing path", map[string]interface{}{}},
		{"empty path", map[string]interface{}{"path": ""}},
		{"relative path", map[string]interface{}{"path": "corpus.jsonl"}},
		{"non-existent path", map[string]interface{}{"path": "/nonexistent/corpus.jsonl"}},
		{"directory", map[string]interface{}{"path": s.corpusDir}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.server.handleIngestRecords(s.ctx, callRequest("ingest_records", tt.args))
			requireCode(s.T(), err, ErrorCodeInvalidParams)
		})
	}
}

func (s *ServerTestSuite) TestSearchHadith() {
	s.ingest(s.seedCorpus(), false)

	res, err := s.server.handleSearchHadith(s.ctx, callRequest("search_hadith", map[string]interface{}{
		"query": "strong angry",
		"limit": float64(2),
	}))
	s.Require().NoError(err)
	out := decode(s.T(), res)

	s.Equal("strong angry", out["query"])
	s.Equal("balanced", out["preset"])
	results, ok := out["results"].([]interface{})
	s.Require().True(ok)
	s.Len(results, 2)

	first := results[0].(map[string]interface{})
	s.Equal(float64(1), first["rank"])
	s.Equal("Riyad as-Salihin 680", first["reference"])
	s.Contains(first["breakdown"], types.ScoreCoverage)
}

func (s *ServerTestSuite) TestSearchHadithFilters() {
	s.ingest(s.seedCorpus(), false)

	res, err := s.server.handleSearchHadith(s.ctx, callRequest("search_hadith", map[string]interface{}{
		"query":       "patience",
		"collections": []interface{}{"tafsir"},
		"preset":      "term-priority",
	}))
	s.Require().NoError(err)
	out := decode(s.T(), res)

	s.Equal("term-priority", out["preset"])
	results := out["results"].([]interface{})
	s.Require().Len(results, 1)
	s.Equal("tafsir:ibn-kathir:2:153", results[0].(map[string]interface{})["id"])
}

func (s *ServerTestSuite) TestSearchHadithValidation() {
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing query", map[string]interface{}{}},
		{"limit too large", map[string]interface{}{"query": "patience", "limit": float64(searcher.MaxLimit + 1)}},
		{"limit zero", map[string]interface{}{"query": "patience", "limit": float64(0)}},
		{"collections not an array", map[string]interface{}{"query": "patience", "collections": "bukhari"}},
		{"collections with numbers", map[string]interface{}{"query": "patience", "collections": []interface{}{1.0}}},
		{"unknown preset", map[string]interface{}{"query": "patience", "preset": "loudest"}},
		{"unknown grade", map[string]interface{}{"query": "patience", "min_grade": "mawdu"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.server.handleSearchHadith(s.ctx, callRequest("search_hadith", tt.args))
			requireCode(s.T(), err, ErrorCodeInvalidParams)
		})
	}
}

func (s *ServerTestSuite) TestSearchSeesFreshIngest() {
	s.ingest(s.writeCorpus("first.jsonl",
		s.hadithLine("680", "The strong man controls himself", "Abu Hurairah", "Sahih")), false)

	search := func() int {
		res, err := s.server.handleSearchHadith(s.ctx, callRequest("search_hadith", map[string]interface{}{
			"query": "illumination",
		}))
		s.Require().NoError(err)
		return len(decode(s.T(), res)["results"].([]interface{}))
	}
	before := search()

	s.ingest(s.writeCorpus("second.jsonl",
		s.hadithLine("681", "Patience is illumination", "Abu Malik al-Ash'ari", "Sahih")), false)
	s.Greater(search(), before)
}

func (s *ServerTestSuite) TestLookupReference() {
	s.ingest(s.seedCorpus(), false)

	res, err := s.server.handleLookupReference(s.ctx, callRequest("lookup_reference", map[string]interface{}{
		"reference": "2:153",
	}))
	s.Require().NoError(err)
	out := decode(s.T(), res)
	s.Equal("tafsir:ibn-kathir:2:153", out["id"])
	s.Equal(float64(2), out["surah"])
	s.Equal(float64(153), out["ayah"])

	_, err = s.server.handleLookupReference(s.ctx, callRequest("lookup_reference", map[string]interface{}{
		"reference": "Riyad as-Salihin 9999",
	}))
	requireCode(s.T(), err, ErrorCodeNotFound)

	_, err = s.server.handleLookupReference(s.ctx, callRequest("lookup_reference", map[string]interface{}{}))
	requireCode(s.T(), err, ErrorCodeInvalidParams)
}

func (s *ServerTestSuite) TestIndexStatus() {
	s.ingest(s.seedCorpus(), false)

	res, err := s.server.handleIndexStatus(s.ctx, callRequest("index_status", nil))
	s.Require().NoError(err)
	out := decode(s.T(), res)

	lexical := out["lexical"].(map[string]interface{})
	vector := out["vector"].(map[string]interface{})
	s.Equal(float64(4), lexical["document_count"])
	s.Equal(float64(4), vector["document_count"])
	s.Equal(float64(testDim), vector["dimension"])
	s.Equal(storage.BuildMode, vector["build_mode"])
	s.Equal(float64(4), out["checksum_count"])
	s.Equal(true, out["indexes_consistent"])
	s.Equal(false, out["ingestion_running"])
	s.Contains(out["weight_presets"], "balanced")
}

func TestToolErrorCodes(t *testing.T) {
	s := &Server{logger: discardLogger()}
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrInvalidArgument, ErrorCodeInvalidParams},
		{types.NewValidationError("id", "empty"), ErrorCodeInvalidParams},
		{searcher.ErrNotFound, ErrorCodeNotFound},
		{indexer.ErrIngestionInProgress, ErrorCodeIngestionInProgress},
		{types.ErrRetrievalTimeout, ErrorCodeTimeout},
		{types.ErrIndexUnavailable, ErrorCodeIndexUnavailable},
		{errors.New("boom"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			requireCode(t, s.toolError("failed", tt.err), tt.code)
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	got, err := getStringSlice(map[string]interface{}{"c": []interface{}{"a", "b"}}, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = getStringSlice(map[string]interface{}{}, "c")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = getStringSlice(map[string]interface{}{"c": 3}, "c")
	assert.Error(t, err)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
