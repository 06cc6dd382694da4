// Package aggregator implements time-correct transcript aggregation:
// per-chunk offset accumulation using planned chunk durations, not actual
// elapsed time, so later segments stay aligned with the source even when
// an earlier chunk failed.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/avian-audio/transcribe-master/internal/model"
)

// Aggregate stitches per-chunk results and their parallel planned durations
// into one continuous transcript. results[i] may be nil for a failed chunk;
// chunkDurationsMs must have the same length as results.
func Aggregate(results []*model.ChunkResult, chunkDurationsMs []int64) model.AggregateResult {
	var textBuilder strings.Builder
	var totalProcessingMs int64
	var segments []model.Segment

	var offsetMs int64
	for i, result := range results {
		if result != nil {
			textBuilder.WriteString(strings.TrimSpace(result.Text))
			textBuilder.WriteString("\n")
			totalProcessingMs += result.TimeMs

			for _, seg := range result.Segments {
				start := seg.StartMs + offsetMs
				end := seg.EndMs + offsetMs
				segments = append(segments, model.Segment{
					StartMs:        start,
					EndMs:          end,
					Text:           seg.Text,
					StartFormatted: formatTimestamp(start),
					EndFormatted:   formatTimestamp(end),
				})
			}
		}

		if i < len(chunkDurationsMs) {
			offsetMs += chunkDurationsMs[i]
		}
	}

	return model.AggregateResult{
		Text:                  strings.TrimSpace(textBuilder.String()),
		TotalProcessingTimeMs: totalProcessingMs,
		SegmentsCount:         len(segments),
		Segments:              segments,
	}
}

// formatTimestamp renders a millisecond offset as HH:MM:SS.mmm.
func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	seconds := ms / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
