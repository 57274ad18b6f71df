package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"scribeflow/internal/audio"
	"scribeflow/pkg/logger"
)

// FallbackAdapter is the single-model, CPU-safe engine used when the
// aligned pipeline is not configured. On first load it decodes a short
// silent buffer to amortize model initialization.
type FallbackAdapter struct {
	mu sync.Mutex

	modelSize string
	device    string
	force     bool
	runner    []string
	cap       capability

	warmed       bool
	accelRetried bool
}

// NewFallbackAdapter resolves the device policy up front.
func NewFallbackAdapter(modelSize, devicePreference string, force bool, runner []string) *FallbackAdapter {
	device, warn := ResolveDevice(devicePreference, force, AcceleratorAvailable)
	if warn {
		logger.Warn("Accelerator requested but unavailable, using cpu", "model", modelSize)
	}
	return &FallbackAdapter{
		modelSize: modelSize,
		device:    device,
		force:     force,
		runner:    runner,
		cap:       newCapability(fallbackCapability...),
	}
}

func (a *FallbackAdapter) Variant() string { return VariantFallback }

func (a *FallbackAdapter) EffectiveDevice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *FallbackAdapter) Transcribe(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sink == nil {
		sink = NopSink{}
	}

	a.warmup(ctx, sink)

	result, err := a.decode(ctx, audioPath, opts, sink)
	if err != nil && !a.accelRetried && a.device == DeviceAccelerator && IsAcceleratorError(err) {
		a.accelRetried = true
		a.device = DeviceCPU
		sink.OnEvent("engine.device", map[string]interface{}{
			"fallback": DeviceCPU,
			"cause":    SummarizeAcceleratorError(err),
		})
		logger.Warn("Accelerator decode failed, retrying on cpu", "error", err)
		result, err = a.decode(ctx, audioPath, opts, sink)
	}
	if err != nil {
		return nil, err
	}
	result.Device = a.device
	return result, nil
}

// warmup decodes ~0.5 s of silence once. Best effort: a warmup failure is
// logged, never fatal.
func (a *FallbackAdapter) warmup(ctx context.Context, sink Sink) {
	if a.warmed {
		return
	}
	a.warmed = true

	dir, err := os.MkdirTemp("", "engine-warmup-")
	if err != nil {
		logger.Debug("Warmup skipped", "error", err)
		return
	}
	defer os.RemoveAll(dir)

	silence := filepath.Join(dir, "silence.wav")
	if err := audio.WriteSilence(silence, 0.5); err != nil {
		logger.Debug("Warmup skipped", "error", err)
		return
	}
	_, err = runDecode(ctx, a.command(silence, Options{VADMode: "off"}, false, nil), NopSink{}, nil)
	if err != nil {
		logger.Debug("Warmup decode failed", "model", a.modelSize, "error", err)
		return
	}
	sink.OnEvent("engine.warmup", map[string]interface{}{"model": a.modelSize})
}

func (a *FallbackAdapter) decode(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error) {
	vadEnabled := resolveVAD(opts.VADMode, func() float64 {
		samples, err := audio.DecodeToPCM(ctx, audioPath)
		if err != nil {
			return 0
		}
		return audio.SilenceRatio(samples)
	})
	extra := a.cap.filterOptions(opts.Extra, sink)

	attempts := []bool{vadEnabled}
	if vadEnabled {
		attempts = append(attempts, false)
	}

	var lastErr error
	for i, useVAD := range attempts {
		if i > 0 {
			sink.OnEvent("transcribe.retry", map[string]interface{}{
				"reason": "vad rejected, retrying without vad filter",
			})
		}
		optionRetried := false
		for {
			result, err := runDecode(ctx, a.command(audioPath, opts, useVAD, extra), sink, opts.RegisterProcess)
			if err == nil {
				return result, nil
			}
			lastErr = err
			if key := unexpectedOptionKey(err); key != "" && !optionRetried {
				optionRetried = true
				a.cap.retire(key)
				delete(extra, key)
				sink.OnEvent("transcribe.option", map[string]interface{}{
					"retired": key,
				})
				continue
			}
			break
		}
		if useVAD && isVADError(lastErr) {
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}

func (a *FallbackAdapter) command(audioPath string, opts Options, vad bool, extra map[string]interface{}) []string {
	argv := append([]string{}, a.runner...)
	argv = append(argv,
		"--audio", audioPath,
		"--model", a.modelSize,
		"--device", a.device,
		"--output", "jsonl",
	)
	if opts.Quantization != "" {
		argv = append(argv, "--compute-type", opts.Quantization)
	}
	if opts.Language != "" {
		argv = append(argv, "--language", opts.Language)
	}
	if opts.BeamSize > 0 {
		argv = append(argv, "--beam-size", fmt.Sprint(opts.BeamSize))
	}
	argv = append(argv, fmt.Sprintf("--vad=%t", vad))
	argv = append(argv, formatExtraArgs(extra)...)
	return argv
}
