package embeddings

import (
	"context"
	"crypto/sha256"
)

// hashDims matches the original implementation's HASH_EMBED_DIMS.
const hashDims = 48

// HashingBackend is a deterministic, dependency-free embedding backend
// for test environments. It must be explicitly opted into
// (ROUTER_EMBEDDINGS_ALLOW_HASHED) — it produces no semantic signal, only
// a stable fingerprint, so similarity scoring against it is meaningless
// outside of exercising the wiring.
type HashingBackend struct{}

func (HashingBackend) Kind() string    { return "hashed" }
func (HashingBackend) Dimensions() int { return hashDims }

func (HashingBackend) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t)
	}
	return out, nil
}

func (HashingBackend) HealthCheck(context.Context) error { return nil }

func hashEmbed(text string) []float64 {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float64, hashDims)
	for i := range vec {
		b := float64(digest[i%len(digest)])
		vec[i] = (b/255.0)*2.0 - 1.0
	}
	return normalize(vec)
}
