package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVideoRecognizesConfiguredExtensions(t *testing.T) {
	assert.True(t, isVideo(".mp4"))
	assert.True(t, isVideo(".mov"))
	assert.True(t, isVideo(".webm"))
	assert.False(t, isVideo(".wav"))
	assert.False(t, isVideo(".mp3"))
}

func TestExpectedChunkCountMatchesSpecFormula(t *testing.T) {
	// spec §8: number of produced transcripts equals ceil(D/C).
	assert.Equal(t, 1, expectedChunkCount(299, chunkSeconds))
	assert.Equal(t, 1, expectedChunkCount(300, chunkSeconds))
	assert.Equal(t, 2, expectedChunkCount(301, chunkSeconds))
	assert.Equal(t, 4, expectedChunkCount(1000, chunkSeconds))
}
