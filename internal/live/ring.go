// Package live implements chunked streaming transcription sessions: an
// append-only PCM file per session, a bounded rolling ring re-decoded
// with overlap after each chunk, and hypothesis deduplication that
// converges repeated decodes into a stable segment list.
package live

import (
	"errors"

	"scribeflow/internal/audio"
)

// ErrEmptyWindow is returned when an export covers no audio.
var ErrEmptyWindow = errors.New("live: window contains no audio")

// Ring keeps the most recent W seconds of canonical PCM plus the total
// elapsed time T, so windows can be addressed in absolute session time.
type Ring struct {
	maxDuration float64
	samples     []int16
	total       float64
}

// NewRing builds a ring bounded to maxDuration seconds (at least 1).
func NewRing(maxDuration float64) *Ring {
	if maxDuration < 1 {
		maxDuration = 1
	}
	return &Ring{maxDuration: maxDuration}
}

// Append adds samples and trims the buffer to the bound.
func (r *Ring) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.total += audio.Duration(samples)
	r.samples = append(r.samples, samples...)
	maxSamples := int(r.maxDuration * audio.SampleRate)
	if len(r.samples) > maxSamples {
		r.samples = append([]int16(nil), r.samples[len(r.samples)-maxSamples:]...)
	}
}

// Duration is the buffered play time.
func (r *Ring) Duration() float64 { return audio.Duration(r.samples) }

// Start is the absolute time of the oldest buffered sample:
// max(0, T - buffered).
func (r *Ring) Start() float64 {
	s := r.total - r.Duration()
	if s < 0 {
		return 0
	}
	return s
}

// End is the absolute time of the newest buffered sample (= T).
func (r *Ring) End() float64 { return r.Start() + r.Duration() }

// ExportWindow writes the buffered audio from startTime (clamped to the
// ring's start) to the end of the ring as a WAV at path. It returns the
// actual window start and end in absolute session time.
func (r *Ring) ExportWindow(startTime float64, path string) (windowStart, windowEnd float64, err error) {
	if len(r.samples) == 0 {
		return 0, 0, ErrEmptyWindow
	}
	actualStart := startTime
	if actualStart < r.Start() {
		actualStart = r.Start()
	}
	offset := int((actualStart - r.Start()) * audio.SampleRate)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.samples) {
		return 0, 0, ErrEmptyWindow
	}
	window := r.samples[offset:]
	if err := audio.WriteWAV(path, window); err != nil {
		return 0, 0, err
	}
	return actualStart, r.End(), nil
}
