package splitter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileCoversWholeDurationExactly(t *testing.T) {
	t.Parallel()

	ranges := tile(150000, fallbackTileMs)
	require.Len(t, ranges, 3)
	assert.Equal(t, timeRange{0, 60000}, ranges[0])
	assert.Equal(t, timeRange{60000, 120000}, ranges[1])
	assert.Equal(t, timeRange{120000, 150000}, ranges[2])
}

func TestMergeBridgesShortGaps(t *testing.T) {
	t.Parallel()

	in := []timeRange{{0, 1000}, {2000, 3000}, {10000, 11000}}
	out := merge(in, 3000)
	require.Len(t, out, 2)
	assert.Equal(t, timeRange{0, 3000}, out[0])
	assert.Equal(t, timeRange{10000, 11000}, out[1])
}

func TestPadClampsToBounds(t *testing.T) {
	t.Parallel()

	in := []timeRange{{100, 900}, {9700, 9900}}
	out := pad(in, 500, 10000)
	assert.Equal(t, timeRange{0, 1400}, out[0])
	assert.Equal(t, timeRange{9200, 10000}, out[1])
}

func TestCoalesceMergesUntilMinLength(t *testing.T) {
	t.Parallel()

	in := []timeRange{{0, 10000}, {10000, 20000}, {20000, 25000}}
	out := coalesce(in, 30000)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0].ranges)
}

func TestCoalesceSingleShortRangeStaysAsOneChunk(t *testing.T) {
	t.Parallel()

	in := []timeRange{{1000, 5000}}
	out := coalesce(in, 30000)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0].ranges)
}

func TestCoalesceExcludesGapBetweenGroupedRanges(t *testing.T) {
	t.Parallel()

	// Two short speech ranges separated by a gap of silence; coalesce must
	// group them to satisfy minLenMs without folding the gap itself into
	// the exported span.
	in := []timeRange{{0, 5000}, {20000, 25000}}
	out := coalesce(in, 8000)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0].ranges)
	assert.Equal(t, 10000, out[0].lengthMs())
}

func TestDetectNonSilentFindsLoudRegion(t *testing.T) {
	t.Parallel()

	sampleRate := 16000
	totalMs := 3000
	samples := make([]int, msToSamples(totalMs, sampleRate))
	// Loud region between 1000ms and 2000ms, silence elsewhere.
	loudStart := msToSamples(1000, sampleRate)
	loudEnd := msToSamples(2000, sampleRate)
	for i := loudStart; i < loudEnd; i++ {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}

	ranges := detectNonSilent(samples, sampleRate, 200, 100, -30)
	require.NotEmpty(t, ranges)
	assert.InDelta(t, 1000, ranges[0].startMs, 200)
	assert.InDelta(t, 2000, ranges[0].endMs, 200)
}

func TestSplitRoundTripOnSyntheticFile(t *testing.T) {
	t.Parallel()

	sampleRate := 16000
	totalMs := 3000
	samples := make([]int, msToSamples(totalMs, sampleRate))
	loudStart := msToSamples(1000, sampleRate)
	loudEnd := msToSamples(2200, sampleRate)
	for i := loudStart; i < loudEnd; i++ {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	require.NoError(t, writeWav(src, samples, sampleRate))

	outDir := filepath.Join(dir, "chunks")
	paths, err := Split(src, outDir, Options{MinLengthMs: 1, SilenceThreshDB: -30, SilenceLenMs: 200})
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		_, err := os.Stat(p)
		require.NoError(t, err)
		assert.Contains(t, filepath.Base(p), "source_part")
	}
}

func TestDurationMsMatchesWrittenLength(t *testing.T) {
	t.Parallel()

	sampleRate := 16000
	samples := make([]int, sampleRate*2) // 2 seconds
	dir := t.TempDir()
	path := filepath.Join(dir, "two_seconds.wav")
	require.NoError(t, writeWav(path, samples, sampleRate))

	ms, err := DurationMs(path)
	require.NoError(t, err)
	assert.InDelta(t, 2000, ms, 50)
}
