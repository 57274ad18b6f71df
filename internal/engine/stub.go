package engine

import (
	"context"
	"strings"
	"sync"

	"scribeflow/internal/audio"
	"scribeflow/internal/models"
)

// stubWords cycle deterministically through emitted tokens, two tokens
// per second of input.
var stubWords = []string{"hola", "mundo", "esto", "es", "una", "prueba"}

const stubTokenSeconds = 0.5

// StubAdapter produces deterministic output derived only from the input
// duration, so tests can assert exact transcripts without a model.
type StubAdapter struct {
	mu  sync.Mutex
	cap capability
	// FailWith, when set, makes the next decode fail once with the given
	// error. Tests use it to exercise the worker's failure path.
	FailWith error
}

// NewStubAdapter builds the test engine.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{cap: newCapability(stubCapability...)}
}

func (a *StubAdapter) Variant() string        { return VariantStub }
func (a *StubAdapter) EffectiveDevice() string { return DeviceCPU }

func (a *StubAdapter) Transcribe(ctx context.Context, audioPath string, opts Options, sink Sink) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sink == nil {
		sink = NopSink{}
	}

	if err := a.FailWith; err != nil {
		a.FailWith = nil
		return nil, err
	}

	a.cap.filterOptions(opts.Extra, sink)

	duration := 1.0
	var silent bool
	if samples, err := audio.DecodeToPCM(ctx, audioPath); err == nil {
		duration = audio.Duration(samples)
		silent = audio.SilenceRatio(samples) >= 0.999
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}

	var segments models.SegmentList
	var parts []string
	if !silent {
		tokens := int(duration / stubTokenSeconds)
		if tokens < 1 {
			tokens = 1
		}
		for i := 0; i < tokens; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			word := stubWords[i%len(stubWords)]
			token := Token{
				Text:         word,
				TStart:       float64(i) * stubTokenSeconds,
				TEnd:         float64(i+1) * stubTokenSeconds,
				SegmentIndex: i / 2,
			}
			sink.OnToken(token)
			parts = append(parts, word)

			if i%2 == 1 || i == tokens-1 {
				segStart := float64((i / 2) * 2) * stubTokenSeconds
				segments = append(segments, models.Segment{
					Start: segStart,
					End:   token.TEnd,
					Text:  strings.Join(parts[(i/2)*2:], " "),
				})
			}
		}
	}

	return &Result{
		Text:     strings.Join(parts, " "),
		Language: language,
		Duration: duration,
		Segments: segments,
		Runtime:  0.01,
		Device:   DeviceCPU,
	}, nil
}
