package rag

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_DeterministicAndUnitNorm(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "quarterly compliance report")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "quarterly compliance report")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var sumSq float64
	for _, c := range v1 {
		sumSq += float64(c) * float64(c)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-2)
	assert.Len(t, v1, EmbeddingDim)
}

func TestHashEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "alpha")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "omega")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}
