// Package audio holds the PCM plumbing shared by the live-session engine
// and the speech adapters: canonical 16 kHz mono s16 WAV encoding, the
// grow-in-place append protocol, and chunk normalization via ffmpeg.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Canonical live-audio format: 16 kHz, mono, 16-bit signed PCM.
const (
	SampleRate    = 16000
	Channels      = 1
	BytesPerSample = 2
)

const wavHeaderSize = 44

// ErrCorruptHeader reports a WAV file whose RIFF header cannot be trusted.
var ErrCorruptHeader = errors.New("audio: corrupt wav header")

// wavHeader renders a canonical 44-byte PCM header for dataSize payload
// bytes.
func wavHeader(dataSize uint32) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], SampleRate*Channels*BytesPerSample)
	binary.LittleEndian.PutUint16(h[32:34], Channels*BytesPerSample)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// WriteWAV writes samples as a canonical WAV file at path.
func WriteWAV(path string, samples []int16) error {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(wavHeader(uint32(len(data)))); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// WriteSilence writes duration seconds of canonical silence at path.
func WriteSilence(path string, duration float64) error {
	n := int(duration * SampleRate)
	if n < 1 {
		n = 1
	}
	return WriteWAV(path, make([]int16, n))
}

// AppendWAV grows the WAV at path in place: frames are appended to the
// data chunk and the RIFF size fields at offsets 4 and 40 are rewritten.
// If the file does not exist it is created with a fresh header.
func AppendWAV(path string, frames []byte) error {
	if len(frames) == 0 {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Write(wavHeader(uint32(len(frames)))); err != nil {
			return err
		}
		_, err = f.Write(frames)
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	sizeBytes := make([]byte, 4)
	if _, err := f.ReadAt(sizeBytes, 40); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	currentSize := binary.LittleEndian.Uint32(sizeBytes)

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if int64(currentSize)+wavHeaderSize != info.Size() {
		return fmt.Errorf("%w: data size %d does not match file size %d", ErrCorruptHeader, currentSize, info.Size())
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := f.Write(frames); err != nil {
		return err
	}

	newSize := currentSize + uint32(len(frames))
	binary.LittleEndian.PutUint32(sizeBytes, 36+newSize)
	if _, err := f.WriteAt(sizeBytes, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(sizeBytes, newSize)
	if _, err := f.WriteAt(sizeBytes, 40); err != nil {
		return err
	}
	return nil
}

// ReadWAV parses a canonical WAV file and returns its samples. Only the
// format this package writes is accepted.
func ReadWAV(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeWAVBytes(data)
}

// DecodeWAVBytes parses canonical WAV bytes into samples.
func DecodeWAVBytes(data []byte) ([]int16, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrCorruptHeader
	}
	channels := binary.LittleEndian.Uint16(data[22:24])
	rate := binary.LittleEndian.Uint32(data[24:28])
	bits := binary.LittleEndian.Uint16(data[34:36])
	if channels != Channels || rate != SampleRate || bits != 16 {
		return nil, fmt.Errorf("audio: not canonical pcm (channels=%d rate=%d bits=%d)", channels, rate, bits)
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if int(dataSize) > len(data)-wavHeaderSize {
		return nil, ErrCorruptHeader
	}
	payload := data[wavHeaderSize : wavHeaderSize+int(dataSize)]
	samples := make([]int16, len(payload)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples, nil
}

// WAVDuration returns the duration in seconds of the WAV at path, or an
// error for non-canonical files.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	head := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		return 0, ErrCorruptHeader
	}
	rate := binary.LittleEndian.Uint32(head[24:28])
	channels := binary.LittleEndian.Uint16(head[22:24])
	bits := binary.LittleEndian.Uint16(head[34:36])
	dataSize := binary.LittleEndian.Uint32(head[40:44])
	bytesPerSecond := float64(rate) * float64(channels) * float64(bits) / 8
	if bytesPerSecond == 0 {
		return 0, ErrCorruptHeader
	}
	return float64(dataSize) / bytesPerSecond, nil
}

// Duration returns the play time of a sample slice.
func Duration(samples []int16) float64 {
	return float64(len(samples)) / SampleRate
}
