// Package splitter implements a silence-aware audio splitter: load audio,
// detect non-silent speech regions, merge and coalesce them into chunks of
// at least a minimum length, and export each chunk as a 16kHz mono WAV file.
package splitter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/avian-audio/transcribe-master/internal/errors"
)

const (
	targetSampleRate = 16000
	seekStepMs       = 100
	mergeGapMs       = 3000
	paddingMs        = 500
	fallbackTileMs   = 60000
)

// Options parameterizes Split; zero values take documented defaults.
type Options struct {
	MinLengthMs     int     // default 30000
	SilenceThreshDB float64 // 0 means auto-detect from average loudness
	SilenceLenMs    int     // default 700
}

func (o Options) withDefaults() Options {
	if o.MinLengthMs <= 0 {
		o.MinLengthMs = 30000
	}
	if o.SilenceLenMs <= 0 {
		o.SilenceLenMs = 700
	}
	return o
}

// timeRange is a [startMs, endMs) span of the source audio.
type timeRange struct {
	startMs int
	endMs   int
}

// Split loads the WAV file at srcPath, resolves it to mono 16kHz samples,
// detects speech regions, coalesces them into chunks at least MinLengthMs
// long, and writes each chunk as "<base>_part<NNN>.wav" into outDir.
// Returns the ordered chunk file paths.
func Split(srcPath, outDir string, opts Options) ([]string, error) {
	opts = opts.withDefaults()

	samples, sampleRate, err := loadMono16k(srcPath)
	if err != nil {
		return nil, apperrors.New(err).Component("splitter").Category(apperrors.CategoryAudio).Build()
	}
	totalMs := samplesToMs(len(samples), sampleRate)

	threshDB := opts.SilenceThreshDB
	if threshDB == 0 {
		avg := averageDBFS(samples)
		threshDB = clamp(avg-12, -60, -20)
	}

	nonSilent := detectNonSilent(samples, sampleRate, opts.SilenceLenMs, seekStepMs, threshDB)
	if len(nonSilent) == 0 {
		nonSilent = tile(totalMs, fallbackTileMs)
	} else {
		nonSilent = merge(nonSilent, mergeGapMs)
		nonSilent = pad(nonSilent, paddingMs, totalMs)
	}

	chunks := coalesce(nonSilent, opts.MinLengthMs)

	base := baseName(srcPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, apperrors.New(err).Component("splitter").Category(apperrors.CategoryFileIO).Build()
	}

	paths := make([]string, 0, len(chunks))
	for i, span := range chunks {
		var slice []int
		for _, r := range span.ranges {
			startSample := msToSamples(r.startMs, sampleRate)
			endSample := msToSamples(r.endMs, sampleRate)
			if endSample > len(samples) {
				endSample = len(samples)
			}
			if startSample > endSample {
				startSample = endSample
			}
			slice = append(slice, samples[startSample:endSample]...)
		}

		path := filepath.Join(outDir, fmt.Sprintf("%s_part%03d.wav", base, i))
		if err := writeWav(path, slice, sampleRate); err != nil {
			return nil, apperrors.New(err).Component("splitter").Category(apperrors.CategoryFileIO).Build()
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func baseName(path string) string {
	name := filepath.Base(path)
	return name[:len(name)-len(filepath.Ext(name))]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func samplesToMs(n, sampleRate int) int {
	return int(float64(n) * 1000.0 / float64(sampleRate))
}

func msToSamples(ms, sampleRate int) int {
	return int(float64(ms) * float64(sampleRate) / 1000.0)
}

// loadMono16k decodes a WAV file, downmixes to mono, and resamples to
// targetSampleRate using linear interpolation.
func loadMono16k(path string) ([]int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding wav: %w", err)
	}

	mono := downmix(buf)
	if buf.Format.SampleRate != targetSampleRate {
		mono = resample(mono, buf.Format.SampleRate, targetSampleRate)
	}
	return mono, targetSampleRate, nil
}

func downmix(buf *audio.IntBuffer) []int {
	ch := buf.Format.NumChannels
	if ch <= 1 {
		out := make([]int, len(buf.Data))
		copy(out, buf.Data)
		return out
	}
	n := len(buf.Data) / ch
	out := make([]int, n)
	for i := 0; i < n; i++ {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		out[i] = sum / ch
	}
	return out
}

func resample(samples []int, from, to int) []int {
	if from == to || len(samples) == 0 {
		return samples
	}
	outLen := int(float64(len(samples)) * float64(to) / float64(from))
	out := make([]int, outLen)
	for i := range out {
		srcPos := float64(i) * float64(from) / float64(to)
		lo := int(srcPos)
		hi := lo + 1
		frac := srcPos - float64(lo)
		if hi >= len(samples) {
			hi = len(samples) - 1
		}
		if lo >= len(samples) {
			lo = len(samples) - 1
		}
		out[i] = int(float64(samples[lo])*(1-frac) + float64(samples[hi])*frac)
	}
	return out
}

// averageDBFS computes the average loudness of the whole signal in dBFS
// relative to 16-bit full scale.
func averageDBFS(samples []int) float64 {
	if len(samples) == 0 {
		return -60
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms <= 0 {
		return -120
	}
	return 20 * math.Log10(rms/32768.0)
}

// windowDBFS computes the dBFS of samples[startMs:endMs).
func windowDBFS(samples []int, sampleRate, startMs, endMs int) float64 {
	start := msToSamples(startMs, sampleRate)
	end := msToSamples(endMs, sampleRate)
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return -120
	}
	return averageDBFS(samples[start:end])
}

// detectNonSilent scans the signal in seekStepMs increments, each time
// measuring the dBFS of a silenceLenMs window, and returns the contiguous
// spans that are not covered by a silent run of at least silenceLenMs.
func detectNonSilent(samples []int, sampleRate, silenceLenMs, seekStepMs int, threshDB float64) []timeRange {
	totalMs := samplesToMs(len(samples), sampleRate)
	if totalMs < silenceLenMs {
		if totalMs <= 0 {
			return nil
		}
		return []timeRange{{0, totalMs}}
	}

	lastStart := totalMs - silenceLenMs
	var silent []timeRange
	rangeStart := -1
	prevStart := -seekStepMs - 1

	for start := 0; start <= lastStart; start += seekStepMs {
		db := windowDBFS(samples, sampleRate, start, start+silenceLenMs)
		if db <= threshDB {
			if rangeStart == -1 {
				rangeStart = start
			}
			prevStart = start
			continue
		}
		if rangeStart != -1 {
			silent = append(silent, timeRange{rangeStart, prevStart + silenceLenMs})
			rangeStart = -1
		}
	}
	if rangeStart != -1 {
		silent = append(silent, timeRange{rangeStart, prevStart + silenceLenMs})
	}

	return invert(silent, totalMs)
}

// invert turns a set of silent spans into the complementary non-silent
// spans covering [0, totalMs).
func invert(silent []timeRange, totalMs int) []timeRange {
	var nonSilent []timeRange
	cursor := 0
	for _, s := range silent {
		if s.startMs > cursor {
			nonSilent = append(nonSilent, timeRange{cursor, s.startMs})
		}
		if s.endMs > cursor {
			cursor = s.endMs
		}
	}
	if cursor < totalMs {
		nonSilent = append(nonSilent, timeRange{cursor, totalMs})
	}
	return nonSilent
}

// tile produces fixed-length spans covering [0, totalMs) when no silence
// boundary could be found at all.
func tile(totalMs, tileMs int) []timeRange {
	var out []timeRange
	for start := 0; start < totalMs; start += tileMs {
		end := start + tileMs
		if end > totalMs {
			end = totalMs
		}
		out = append(out, timeRange{start, end})
	}
	return out
}

// merge bridges adjacent ranges whose gap is shorter than gapMs.
func merge(ranges []timeRange, gapMs int) []timeRange {
	if len(ranges) == 0 {
		return ranges
	}
	merged := []timeRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.startMs-last.endMs < gapMs {
			if r.endMs > last.endMs {
				last.endMs = r.endMs
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// pad extends every range by padMs on each side, clamped to [0, totalMs).
func pad(ranges []timeRange, padMs, totalMs int) []timeRange {
	out := make([]timeRange, len(ranges))
	for i, r := range ranges {
		start := r.startMs - padMs
		if start < 0 {
			start = 0
		}
		end := r.endMs + padMs
		if end > totalMs {
			end = totalMs
		}
		out[i] = timeRange{start, end}
	}
	return out
}

// chunkSpan is a coalesced chunk: one or more non-silent source ranges to
// be concatenated together, so the exported audio covers only the speech
// regions and skips the silence bridged between them.
type chunkSpan struct {
	ranges []timeRange
}

func (c chunkSpan) lengthMs() int {
	total := 0
	for _, r := range c.ranges {
		total += r.endMs - r.startMs
	}
	return total
}

// coalesce groups consecutive ranges into spans so that every resulting
// chunk covers at least minLenMs of actual speech, except possibly the
// last. Unlike merging the ranges' outer bounds, the silence between
// grouped ranges is never included in the exported audio.
func coalesce(ranges []timeRange, minLenMs int) []chunkSpan {
	if len(ranges) == 0 {
		return nil
	}
	var out []chunkSpan
	current := chunkSpan{ranges: []timeRange{ranges[0]}}
	for _, r := range ranges[1:] {
		if current.lengthMs() < minLenMs {
			current.ranges = append(current.ranges, r)
			continue
		}
		out = append(out, current)
		current = chunkSpan{ranges: []timeRange{r}}
	}
	out = append(out, current)
	return out
}

// writeWav encodes mono samples at sampleRate into a 16-bit PCM WAV file.
func writeWav(path string, samples []int, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("writing chunk samples: %w", err)
	}
	return enc.Close()
}

// DurationMs returns the duration, in milliseconds, of a WAV file's audio
// data by reading only its header.
func DurationMs(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening wav for duration probe: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("reading wav duration: %w", err)
	}
	return int(dur.Milliseconds()), nil
}
