package engine

import (
	"sort"
)

// capability is the declared option surface of an engine variant:
// accepted keys are a static table, not runtime discovery.
type capability struct {
	accepted map[string]bool
}

func newCapability(keys ...string) capability {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return capability{accepted: m}
}

func (c capability) supports(key string) bool { return c.accepted[key] }

// retire removes a key the engine rejected at runtime, so a retry does
// not trip over it again.
func (c capability) retire(key string) {
	delete(c.accepted, key)
}

// filterOptions splits opts into the accepted subset and the dropped
// remainder. Dropped keys are reported to the sink as a single
// transcribe.option debug event.
func (c capability) filterOptions(opts map[string]interface{}, sink Sink) map[string]interface{} {
	if len(opts) == 0 {
		return nil
	}
	accepted := make(map[string]interface{}, len(opts))
	var dropped []string
	for key, value := range opts {
		if c.supports(key) {
			accepted[key] = value
		} else {
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 && sink != nil {
		sort.Strings(dropped)
		sink.OnEvent("transcribe.option", map[string]interface{}{
			"dropped": dropped,
		})
	}
	return accepted
}

// Capability tables per variant. The primary engine accepts the aligned
// pipeline's surface; the fallback is the single-model decode surface.
var (
	primaryCapability = []string{
		"language", "task", "beam_size", "best_of", "patience",
		"temperature", "batch_size", "word_timestamps", "diarize",
		"min_speakers", "max_speakers", "vad_filter",
		"condition_on_previous_text", "compression_ratio_threshold",
		"log_prob_threshold", "initial_prompt",
	}
	fallbackCapability = []string{
		"language", "task", "beam_size", "best_of", "patience",
		"temperature", "vad_filter", "word_timestamps",
		"condition_on_previous_text", "compression_ratio_threshold",
		"log_prob_threshold", "suppress_blank", "suppress_tokens",
		"length_penalty", "initial_prompt",
	}
	stubCapability = []string{
		"language", "beam_size", "vad_filter",
	}
)
