package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Machine learning activities for elementary students")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Machine learning activities for elementary students")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestHashEmbedder_RelatedTextIsCloser(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "algorithmic bias in hiring")
	related, _ := e.Embed(ctx, "A lesson about algorithmic bias and fairness in hiring tools")
	unrelated, _ := e.Embed(ctx, "Photosynthesis converts sunlight into chemical energy")

	qn := norm(q)
	assert.Greater(t, cosine(q, related, qn), cosine(q, unrelated, qn))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	vec, err := NewHashEmbedder(16).Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Zero(t, norm(vec))
	assert.False(t, math.IsNaN(float64(vec[0])))
}

func TestNewHashEmbedder_DefaultDims(t *testing.T) {
	vec, err := NewHashEmbedder(0).Embed(context.Background(), "ethics")
	require.NoError(t, err)
	assert.Len(t, vec, 384)
}
