package engine

import (
	"context"
	"fmt"
	"sync"

	"scribeflow/internal/audio"
	"scribeflow/pkg/logger"
)

// PrimaryAdapter drives the aligned engine with optional diarization. It
// shells out to the engine runner and streams token events back through
// the sink.
type PrimaryAdapter struct {
	mu sync.Mutex

	modelSize string
	device    string
	force     bool
	runner    []string // command prefix, e.g. {"python3", "scripts/asr_primary.py"}
	cap       capability
	// accelRetried marks that the one-shot CPU re-instantiation already
	// happened for this adapter.
	accelRetried bool
}

// NewPrimaryAdapter resolves the device policy immediately so the first
// decode does not race it.
func NewPrimaryAdapter(modelSize, devicePreference string, force bool, runner []string) *PrimaryAdapter {
	device, warn := ResolveDevice(devicePreference, force, AcceleratorAvailable)
	if warn {
		logger.Warn("Accelerator requested but unavailable, using cpu", "model", modelSize)
	}
	return &PrimaryAdapter{
		modelSize: modelSize,
		device:    device,
		force:     force,
		runner:    runner,
		cap:       newCapability(primaryCapability...),
	}
}

func (a *PrimaryAdapter) Variant() string { return VariantPrimary }

func (a *PrimaryAdapter) EffectiveDevice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *PrimaryAdapter) Transcribe(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sink == nil {
		sink = NopSink{}
	}

	result, err := a.decode(ctx, audioPath, opts, sink)
	if err != nil && !a.accelRetried && a.device == DeviceAccelerator && IsAcceleratorError(err) {
		// One-shot recovery: re-instantiate on cpu and retry exactly once.
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

func (a *PrimaryAdapter) decode(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error) {
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
				// Retire the offending key and retry once.
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

func (a *PrimaryAdapter) command(audioPath string, opts Options, vad bool, extra map[string]interface{}) []string {
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
	if opts.Language != "" && a.cap.supports("language") {
		argv = append(argv, "--language", opts.Language)
	}
	if opts.BeamSize > 0 && a.cap.supports("beam_size") {
		argv = append(argv, "--beam-size", fmt.Sprint(opts.BeamSize))
	}
	if opts.Diarize && a.cap.supports("diarize") {
		argv = append(argv, "--diarize")
	}
	if opts.WordTimestamps && a.cap.supports("word_timestamps") {
		argv = append(argv, "--word-timestamps")
	}
	if a.cap.supports("vad_filter") {
		argv = append(argv, fmt.Sprintf("--vad=%t", vad))
	}
	argv = append(argv, formatExtraArgs(extra)...)
	return argv
}
