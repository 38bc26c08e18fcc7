// Package embedder turns document and query text into vectors.
//
// Three providers implement the Embedder interface:
//
//   - jina: the Jina AI embeddings API over plain HTTP
//   - openai: any OpenAI-compatible endpoint, through langchaingo
//   - local: an offline feature-hashing embedder, deterministic and fast
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.ConfigFromEnv(), logger)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: doc.CombinedText,
//	})
//
// # Provider Selection
//
// ConfigFromEnv picks a provider the same way the CLI does:
//
//  1. If HADITH_EMBEDDING_PROVIDER is set, use it
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else fall back to the local provider
//
// # Remote Providers
//
// Calls to hosted providers pass through a guard that applies a token-bucket
// rate limit (golang.org/x/time/rate), exponential backoff retries and a
// circuit breaker (sony/gobreaker). Client errors such as HTTP 400 and
// dimension mismatches are not retried.
//
// # Caching
//
// Vectors are cached in an LRU keyed by model name and the SHA-256 of the
// input text. Batches only send cache misses to the provider, and a vector of
// the wrong length is never cached.
package embedder
