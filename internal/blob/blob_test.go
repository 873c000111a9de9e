package blob

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartSizeForRoundsUpTo5MiB(t *testing.T) {
	const mib = 1024 * 1024

	assert.Equal(t, int64(5*mib), partSizeFor(1*mib))
	assert.Equal(t, int64(5*mib), partSizeFor(50000*mib/10000)) // exactly at the 5MiB floor

	big := int64(200000 * mib) // forces a part size above the 5MiB floor
	got := partSizeFor(big)
	assert.Equal(t, int64(0), got%(5*mib), "part size must be a 5MiB multiple")
	assert.GreaterOrEqual(t, got, int64(5*mib))
}

func TestMintUploadPartCountBoundary(t *testing.T) {
	const mib = 1024 * 1024
	// Part size floors at 5MiB, so 10000 parts * 5MiB = ~48.8GiB is the edge.
	atLimit := int64(10000 * 5 * mib)
	partSize := partSizeFor(atLimit)
	n := int64(math.Ceil(float64(atLimit) / float64(partSize)))
	assert.LessOrEqual(t, n, int64(maxPartCount))

	overLimit := atLimit + int64(5*mib)
	partSize = partSizeFor(overLimit)
	n = int64(math.Ceil(float64(overLimit) / float64(partSize)))
	assert.Greater(t, n, int64(maxPartCount))
}

func TestNewKeyLayoutAndExtensionEscaping(t *testing.T) {
	key := newKey("my recording.mp3")
	assert.Regexp(t, `^uploads/\d+_[0-9a-f]{12}\.mp3$`, key)
}

func TestSanitizeExtHandlesEmpty(t *testing.T) {
	assert.Equal(t, "", sanitizeExt(""))
}
