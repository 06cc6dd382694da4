package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avian-audio/transcribe-master/internal/model"
)

func TestAggregateTwoChunksBothSucceed(t *testing.T) {
	t.Parallel()

	results := []*model.ChunkResult{
		{Text: "a", Segments: []model.WorkerSegment{{StartMs: 1000, EndMs: 5000, Text: "a"}}},
		{Text: "b", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 4000, Text: "b"}}},
	}
	durations := []int64{10000, 15000}

	agg := Aggregate(results, durations)

	assert.Equal(t, "a\nb", agg.Text)
	assert.Equal(t, 2, agg.SegmentsCount)
	assert.Equal(t, int64(1000), agg.Segments[0].StartMs)
	assert.Equal(t, int64(5000), agg.Segments[0].EndMs)
	assert.Equal(t, int64(10000), agg.Segments[1].StartMs)
	assert.Equal(t, int64(14000), agg.Segments[1].EndMs)
}

func TestAggregateMiddleChunkFails(t *testing.T) {
	t.Parallel()

	results := []*model.ChunkResult{
		{Text: "x", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 1000, Text: "x"}}},
		nil,
		{Text: "z", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 1000, Text: "z"}}},
	}
	durations := []int64{5000, 5000, 5000}

	agg := Aggregate(results, durations)

	assert.Equal(t, "x\nz", agg.Text)
	assert.Equal(t, int64(0), agg.Segments[0].StartMs)
	assert.Equal(t, int64(10000), agg.Segments[1].StartMs)
}

func TestAggregateAllNull(t *testing.T) {
	t.Parallel()

	results := []*model.ChunkResult{nil, nil}
	durations := []int64{1000, 1000}

	agg := Aggregate(results, durations)

	assert.Equal(t, "", agg.Text)
	assert.Equal(t, 0, agg.SegmentsCount)
	assert.Equal(t, int64(0), agg.TotalProcessingTimeMs)
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "01:01:01.234", formatTimestamp(3661234))
	assert.Equal(t, "00:00:00.000", formatTimestamp(0))
}

func TestAggregateSegmentsSortedWhenAllSucceed(t *testing.T) {
	t.Parallel()

	results := []*model.ChunkResult{
		{Text: "a", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 1000, Text: "a"}}},
		{Text: "b", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 1000, Text: "b"}}},
		{Text: "c", Segments: []model.WorkerSegment{{StartMs: 0, EndMs: 1000, Text: "c"}}},
	}
	durations := []int64{2000, 2000, 2000}

	agg := Aggregate(results, durations)
	for i := 1; i < len(agg.Segments); i++ {
		assert.GreaterOrEqual(t, agg.Segments[i].StartMs, agg.Segments[i-1].StartMs)
	}
}
