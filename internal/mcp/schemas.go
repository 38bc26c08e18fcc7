package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/hadith-search/internal/searcher"
)

// searchHadithTool returns the tool definition for search_hadith
func searchHadithTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_hadith",
		Description: "Search hadith and tafsir by meaning, keywords, narrator or reference",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Arabic or English query, a narrator name, or a reference such as 'Riyad as-Salihin 680' or '2:255'",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"collections": map[string]interface{}{
					"type":        "array",
					"description": "Only return results from these collection slugs (e.g. bukhari, riyadussalihin, tafsir)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"preset": map[string]interface{}{
					"type":        "string",
					"description": "Weight preset used for ranking: balanced, term-priority or a configured name",
				},
				"min_grade": map[string]interface{}{
					"type":        "string",
					"description": "Drop results graded below this tier",
					"enum":        []string{"sahih", "hasan"},
				},
			},
			Required: []string{"query"},
		},
	}
}

// lookupReferenceTool returns the tool definition for lookup_reference
func lookupReferenceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "lookup_reference",
		Description: "Fetch one hadith or tafsir entry by its exact reference",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"reference": map[string]interface{}{
					"type":        "string",
					"description": "Global reference, e.g. 'Sahih al-Bukhari 6114' or '2:153'",
				},
			},
			Required: []string{"reference"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report document counts, vector dimension and build mode of the indexes",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// ingestRecordsTool returns the tool definition for ingest_records
func ingestRecordsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_records",
		Description: "Ingest a JSON Lines file of hadith or tafsir records into both indexes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a JSON Lines corpus file",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rewrite every record ignoring stored checksums",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
