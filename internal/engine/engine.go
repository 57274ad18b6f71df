// Package engine is the facade over the speech engines. Three variants
// share one contract: the primary aligned engine (optional diarization),
// a single-model CPU-safe fallback, and a deterministic stub for tests.
// The facade owns device selection, accelerator-missing recovery, the
// per-variant option capability tables, and the VAD retry.
package engine

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"scribeflow/internal/models"
)

// Variant names.
const (
	VariantPrimary  = "primary"
	VariantFallback = "fallback"
	VariantStub     = "stub"
)

// Devices.
const (
	DeviceAccelerator = "cuda"
	DeviceCPU         = "cpu"
)

// Token is a single progress event from a decode: one span of recognized
// text with absolute times within the input.
type Token struct {
	Text         string  `json:"text"`
	TStart       float64 `json:"t_start"`
	TEnd         float64 `json:"t_end"`
	SegmentIndex int     `json:"segment"`
}

// Sink receives tokens and debug events during a decode. Implementations
// must tolerate being called from the decode goroutine.
type Sink interface {
	OnToken(Token)
	OnEvent(stage string, fields map[string]interface{})
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnToken(Token)                                {}
func (NopSink) OnEvent(string, map[string]interface{})       {}

// Result is the outcome of a completed decode.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments models.SegmentList
	Runtime  float64
	// Device is the device the decode actually ran on, which may differ
	// from the preference after accelerator recovery.
	Device string
}

// Options parameterizes a single decode.
type Options struct {
	Language       string
	BeamSize       int
	Quantization   string // int8 | float16 | float32
	VADMode        string // auto | on | off
	Diarize        bool
	WordTimestamps bool
	// Extra carries free-form decode options; unsupported keys are
	// filtered against the variant's capability table before the call.
	Extra map[string]interface{}
	// RegisterProcess, when set, receives the engine subprocess so the
	// caller can terminate its process tree on cancellation.
	RegisterProcess func(*exec.Cmd)
}

// Adapter is the uniform contract across variants. Entry points are
// serialized per instance; a shared adapter never decodes concurrently.
type Adapter interface {
	Variant() string
	EffectiveDevice() string
	Transcribe(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error)
}

// acceleratorErrorMarkers classify failures caused by a missing or broken
// accelerator runtime, matched as case-insensitive substrings.
var acceleratorErrorMarkers = []string{
	"could not locate cudnn",
	"cudnn",
	"cublas",
	"invalid handle",
	"cannot load symbol",
	"no cuda gpus are available",
	"cuda driver",
	"driver library cannot be found",
	"nvidia driver on your system is too old",
}

// IsAcceleratorError reports whether err looks like a missing-accelerator
// dependency rather than a genuine decode failure.
func IsAcceleratorError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if msg == "" {
		return false
	}
	for _, marker := range acceleratorErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// SummarizeAcceleratorError shortens an accelerator failure for the
// user-facing error message.
func SummarizeAcceleratorError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "accelerator unavailable"
	}
	if len(msg) > 160 {
		return msg[:157] + "..."
	}
	return msg
}

// isVADError reports whether err is the engine rejecting the VAD flag
// mid-decode.
func isVADError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "vad")
}

var unexpectedOptionRe = regexp.MustCompile(`unexpected keyword argument '([^']+)'`)

// unexpectedOptionKey extracts the offending option name from an
// unexpected-keyword runtime error, or "".
func unexpectedOptionKey(err error) string {
	if err == nil {
		return ""
	}
	m := unexpectedOptionRe.FindStringSubmatch(err.Error())
	if m == nil {
		return ""
	}
	return m[1]
}

// accelerator availability probe, cached for the process lifetime.
var (
	probeOnce   sync.Once
	probeResult bool
)

// AcceleratorAvailable reports whether the runtime can see an accelerator
// device. The probe shells out to nvidia-smi once.
func AcceleratorAvailable() bool {
	probeOnce.Do(func() {
		smi, err := exec.LookPath("nvidia-smi")
		if err != nil {
			probeResult = false
			return
		}
		probeResult = exec.Command(smi, "-L").Run() == nil
	})
	return probeResult
}

// ResolveDevice applies the device policy to a preference:
// auto takes the accelerator iff available; accelerator insists when
// forced, otherwise degrades to cpu with warn=true; cpu is always cpu.
func ResolveDevice(preference string, force bool, available func() bool) (device string, warn bool) {
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "accelerator", "cuda", "gpu":
		if available() || force {
			return DeviceAccelerator, false
		}
		return DeviceCPU, true
	case "cpu":
		return DeviceCPU, false
	default: // auto
		if available() {
			return DeviceAccelerator, false
		}
		return DeviceCPU, false
	}
}

// resolveVAD maps a VAD mode to a concrete flag for one input:
// auto enables VAD iff the input's silence ratio exceeds the threshold.
func resolveVAD(mode string, silenceRatio func() float64) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	default:
		return silenceRatio() > 0.30
	}
}
