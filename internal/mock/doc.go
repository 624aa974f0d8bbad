// Package mock provides test doubles and deterministic stand-ins for the AI
// services.
//
// The doubles allow tests to run without external AI service dependencies.
// MOCK_MODE wires the same types into the server, so every tool works
// offline.
//
// # Usage in Tests
//
//	// Default deterministic behavior
//	emb := mock.NewEmbedder(64)
//	vec, err := emb.Embed(ctx, "quang hợp")
//
//	// Custom behavior injection
//	emb.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, embedding.ErrRateLimited
//	}
//
// # Default Behavior
//
//   - Embedder: hashed bag-of-words vectors, so texts sharing words score
//     higher under cosine similarity
//   - Generator: grounded answers quoting the first passage of the prompt,
//     and well-formed review and recommendation JSON in the requested language
package mock
