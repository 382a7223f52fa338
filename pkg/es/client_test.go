package es

import (
	"testing"
	"wherespace-go/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestRankResults_FiltersBelowMinScore(t *testing.T) {
	hits := []model.RetrievedChunk{
		{ContentMD5: "a", ChunkIndex: 0, Score: 0.9},
		{ContentMD5: "a", ChunkIndex: 1, Score: 0.29},
		{ContentMD5: "b", ChunkIndex: 0, Score: 0.3},
	}

	got := RankResults(hits, 5, 0.3)

	assert.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 0.3, got[1].Score)
}

func TestRankResults_DeterministicOrder(t *testing.T) {
	hits := []model.RetrievedChunk{
		{ContentMD5: "b", ChunkIndex: 2, Score: 0.5},
		{ContentMD5: "a", ChunkIndex: 2, Score: 0.5},
		{ContentMD5: "a", ChunkIndex: 1, Score: 0.5},
		{ContentMD5: "a", ChunkIndex: 0, Score: 0.8},
	}

	got := RankResults(hits, 5, 0)

	assert.Equal(t, 0.8, got[0].Score)
	assert.Equal(t, 1, got[1].ChunkIndex)
	assert.Equal(t, "a", got[2].ContentMD5)
	assert.Equal(t, "b", got[3].ContentMD5)
}

func TestRankResults_TruncatesToK(t *testing.T) {
	hits := []model.RetrievedChunk{
		{ContentMD5: "a", ChunkIndex: 0, Score: 0.9},
		{ContentMD5: "a", ChunkIndex: 1, Score: 0.8},
		{ContentMD5: "a", ChunkIndex: 2, Score: 0.7},
	}

	got := RankResults(hits, 2, 0)

	assert.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 0.8, got[1].Score)
}

func TestRankResults_EmptyHits(t *testing.T) {
	got := RankResults(nil, 5, 0.3)
	assert.Empty(t, got)
}
