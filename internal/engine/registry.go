package engine

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RegistryConfig seeds adapter construction.
type RegistryConfig struct {
	DevicePreference string
	ForceAccelerator bool
	VADMode          string
	// Runner is the subprocess command prefix the primary and fallback
	// variants exec.
	Runner []string
}

// Registry is the process-wide adapter cache keyed by
// (variant, model size, device preference). Concurrent first-callers for
// the same key collapse into one construction via singleflight. The
// registry is process-local; worker processes each own their own.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	adapters map[string]Adapter
	group    singleflight.Group
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		adapters: make(map[string]Adapter),
	}
}

// Get returns the cached adapter for the parameters, constructing it on
// first use.
func (r *Registry) Get(variant, modelSize, devicePreference string) (Adapter, error) {
	if devicePreference == "" {
		devicePreference = r.cfg.DevicePreference
	}
	key := fmt.Sprintf("%s|%s|%s", variant, modelSize, devicePreference)

	r.mu.RLock()
	if adapter, ok := r.adapters[key]; ok {
		r.mu.RUnlock()
		return adapter, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.RLock()
		if adapter, ok := r.adapters[key]; ok {
			r.mu.RUnlock()
			return adapter, nil
		}
		r.mu.RUnlock()

		adapter, err := r.build(variant, modelSize, devicePreference)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.adapters[key] = adapter
		r.mu.Unlock()
		return adapter, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Adapter), nil
}

func (r *Registry) build(variant, modelSize, devicePreference string) (Adapter, error) {
	switch variant {
	case VariantPrimary:
		return NewPrimaryAdapter(modelSize, devicePreference, r.cfg.ForceAccelerator, r.cfg.Runner), nil
	case VariantFallback:
		return NewFallbackAdapter(modelSize, devicePreference, r.cfg.ForceAccelerator, r.cfg.Runner), nil
	case VariantStub:
		return NewStubAdapter(), nil
	default:
		return nil, fmt.Errorf("engine: unknown variant %q", variant)
	}
}

// VADMode exposes the configured default VAD mode for callers building
// Options.
func (r *Registry) VADMode() string { return r.cfg.VADMode }
