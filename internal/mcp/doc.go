// Package mcp implements the Model Context Protocol (MCP) server for hadith-search.
//
// The server exposes four tools to MCP clients:
//   - search_hadith: ranked hybrid search over hadith and tafsir
//   - lookup_reference: fetch one entry by its global reference
//   - index_status: document counts, vector dimension and build mode
//   - ingest_records: ingest a JSON Lines corpus file
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol, served here over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to stderr.
//
// # Basic Usage
//
//	hadith-search serve
//
// # Tool: search_hadith
//
//	Request:
//	{
//	  "name": "search_hadith",
//	  "arguments": {
//	    "query": "hadith about controlling anger",
//	    "limit": 5,
//	    "collections": ["riyadussalihin", "bukhari"],
//	    "preset": "balanced",
//	    "min_grade": "hasan"
//	  }
//	}
//
//	Response:
//	{
//	  "intent": "english_thematic",
//	  "preset": "balanced",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "id": "riyadussalihin:1:680",
//	      "score": 1.12,
//	      "breakdown": {"semantic": 0.21, "coverage": 0.3, "english_term": 0.25, "grading": 0.15},
//	      "reference": "Riyad as-Salihin 680",
//	      "narrator": "Abu Hurairah (May Allah be pleased with him)",
//	      "grading": ["Sahih"]
//	    }
//	  ]
//	}
//
// A query that is itself a reference ("Riyad as-Salihin 680", "2:255")
// returns that single entry.
//
// # Tool: ingest_records
//
//	Request:
//	{
//	  "name": "ingest_records",
//	  "arguments": {"path": "/data/riyadussalihin.jsonl", "force": false}
//	}
//
//	Response:
//	{
//	  "run_id": "6f1c...",
//	  "inserted": 1896,
//	  "skipped_unchanged": 0,
//	  "failed": 2,
//	  "errors": ["validation error: ..."]
//	}
//
// Unchanged records are skipped by checksum unless force is set. A
// successful ingest drops the search result cache.
//
// # Error Handling
//
// Handlers return *MCPError, which the framework encodes as a JSON-RPC error:
//   - -32602: Invalid params (missing or invalid arguments, unknown preset)
//   - -32603: Internal error
//   - -32001: Reference not found
//   - -32002: Ingestion in progress
//   - -32003: Retrieval timeout
//   - -32004: Index unavailable
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "hadith": {
//	      "command": "/usr/local/bin/hadith-search",
//	      "args": ["serve"],
//	      "env": {"HADITH_DATA_DIR": "/var/lib/hadith"}
//	    }
//	  }
//	}
package mcp
