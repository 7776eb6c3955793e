package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// EmbeddingDim is the fixed embedding dimension spec.md §6 specifies.
const EmbeddingDim = 384

// HashEmbedder is a deterministic, dependency-free Embedder used for tests
// and local development: it hashes the input text into EmbeddingDim
// pseudo-random-but-stable components, then L2-normalizes. A real semantic
// embedding model is the out-of-scope collaborator this interface exists to
// let CORE plug in (spec.md §1 Non-goals).
type HashEmbedder struct{}

// NewHashEmbedder returns a HashEmbedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Embed implements Embedder. Deterministic for a fixed input, per spec.md
// §8's invariant: Embed(q) is deterministic and unit-norm within 1e-2.
func (e *HashEmbedder) Embed(_ context.Context, text string) (Embedding, error) {
	vec := make(Embedding, EmbeddingDim)
	seed := []byte(text)
	block := sha256.Sum256(seed)

	for i := 0; i < EmbeddingDim; i++ {
		if i > 0 && i%32 == 0 {
			block = sha256.Sum256(append(block[:], seed...))
		}
		offset := (i % 32)
		// Map two bytes of hash output to a signed component in [-1, 1].
		v := int16(binary.BigEndian.Uint16(append(block[offset:], block[(offset+1)%32])[:2]))
		vec[i] = float32(v) / float32(math.MaxInt16)
	}

	return normalize(vec), nil
}

// normalize L2-normalizes vec so cosine similarity reduces to a dot product.
func normalize(vec Embedding) Embedding {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make(Embedding, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
