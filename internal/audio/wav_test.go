package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(seconds float64, amplitude int16) []int16 {
	n := int(seconds * SampleRate)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	samples := tone(0.25, 8000)
	require.NoError(t, WriteWAV(path, samples))

	got, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, samples, got)

	dur, err := WAVDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, dur, 1e-6)
}

func TestAppendGrowsInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.wav")

	first := tone(0.5, 8000)
	second := tone(0.25, 4000)

	require.NoError(t, AppendWAV(path, PCMBytes(first)))
	require.NoError(t, AppendWAV(path, PCMBytes(second)))
	require.NoError(t, AppendWAV(path, nil)) // empty append is a no-op

	got, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, got, len(first)+len(second))
	assert.Equal(t, first, got[:len(first)])
	assert.Equal(t, second, got[len(first):])

	dur, err := WAVDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, dur, 1e-6)
}

func TestAppendRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, WriteWAV(path, tone(0.1, 8000)))

	// Truncate mid-data so the declared size no longer matches.
	require.NoError(t, os.Truncate(path, 60))
	err := AppendWAV(path, PCMBytes(tone(0.1, 8000)))
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeWAVBytes([]byte("not a wav at all"))
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestSilenceRatio(t *testing.T) {
	assert.InDelta(t, 1.0, SilenceRatio(make([]int16, SampleRate)), 1e-9)
	assert.InDelta(t, 0.0, SilenceRatio(tone(1.0, 8000)), 1e-9)
	assert.InDelta(t, 1.0, SilenceRatio(nil), 1e-9)

	// Half speech, half silence.
	mixed := append(tone(1.0, 8000), make([]int16, SampleRate)...)
	ratio := SilenceRatio(mixed)
	assert.InDelta(t, 0.5, ratio, 0.1)
}
