package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
)

// silence detection parameters, roughly matching a -44 dBFS gate over
// 200 ms windows.
const (
	silenceWindow    = SampleRate / 5
	silenceAmplitude = 200
)

// SilenceRatio estimates the fraction of the signal that is silence:
// the share of 200 ms windows whose peak amplitude stays under the gate.
func SilenceRatio(samples []int16) float64 {
	if len(samples) == 0 {
		return 1.0
	}
	silent := 0
	windows := 0
	for start := 0; start < len(samples); start += silenceWindow {
		end := start + silenceWindow
		if end > len(samples) {
			end = len(samples)
		}
		windows++
		peak := int16(0)
		for _, s := range samples[start:end] {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		if peak < silenceAmplitude {
			silent++
		}
	}
	return float64(silent) / float64(windows)
}

// DecodeToPCM normalizes an audio file of arbitrary container, sample
// rate, and channel count into canonical samples. Canonical WAV input is
// parsed directly; everything else goes through ffmpeg.
func DecodeToPCM(ctx context.Context, path string) ([]int16, error) {
	if samples, err := ReadWAV(path); err == nil {
		return samples, nil
	}

	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("audio: cannot decode %s: ffmpeg not available: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg decode %s: %v: %s", path, err, stderr.String())
	}

	raw := stdout.Bytes()
	samples := make([]int16, len(raw)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

// PCMBytes renders samples as little-endian frames, the form AppendWAV
// consumes.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
