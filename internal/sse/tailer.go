package sse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"scribeflow/internal/queue"

	"scribeflow/pkg/logger"
)

// errDetailNotFound is the uniform detail for both missing envelopes and
// cross-owner reads, so the stream cannot be used as an existence oracle.
const errDetailNotFound = "job-not-found"

// snapshotStep is how much progress must advance before another snapshot
// frame is sent.
const snapshotStep = 25

// Tailer polls a job envelope and converts metadata changes into ordered
// events for exactly one subscriber per Tail call.
type Tailer struct {
	queue queue.Queue

	// PollInterval defaults to 500 ms; HeartbeatAfter to 10 s. Tests
	// shrink both.
	PollInterval   time.Duration
	HeartbeatAfter time.Duration
}

// NewTailer builds a Tailer over q with the production cadences.
func NewTailer(q queue.Queue) *Tailer {
	return &Tailer{
		queue:          q,
		PollInterval:   500 * time.Millisecond,
		HeartbeatAfter: 10 * time.Second,
	}
}

// Tail starts a goroutine that polls the envelope and sends events until
// a terminal frame or context cancellation. The returned channel closes
// after the last event; cancellation closes it within one poll cycle.
func (t *Tailer) Tail(ctx context.Context, envelopeID string, ownerID uint) <-chan Event {
	out := make(chan Event, 8)
	go t.run(ctx, envelopeID, ownerID, out)
	return out
}

type tailState struct {
	first            bool
	lastProgress     int
	snapshotProgress int
	lastEmit         time.Time
}

func (t *Tailer) run(ctx context.Context, envelopeID string, ownerID uint, out chan<- Event) {
	defer close(out)

	send := func(state *tailState, event Event) bool {
		select {
		case out <- event:
			state.lastEmit = time.Now()
			return true
		case <-ctx.Done():
			return false
		}
	}

	state := &tailState{first: true, lastEmit: time.Now()}

	for {
		env, err := t.queue.Fetch(ctx, envelopeID)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				send(state, errorEvent(envelopeID, errDetailNotFound))
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Stream envelope fetch failed", "envelope_id", envelopeID, "error", err)
			send(state, errorEvent(envelopeID, errDetailNotFound))
			return
		}

		meta := env.Meta()

		// Ownership: a mismatched subscriber sees exactly what a missing
		// envelope produces.
		if _, present := meta[queue.MetaUserID]; present {
			if uint(meta.GetInt(queue.MetaUserID)) != ownerID {
				send(state, errorEvent(envelopeID, errDetailNotFound))
				return
			}
		}

		progress := meta.GetInt(queue.MetaProgress)
		status := meta.GetString(queue.MetaStatus)
		transcript := meta.GetString(queue.MetaTranscriptSoFar)

		if state.first {
			state.first = false
			state.lastProgress = 0
			state.snapshotProgress = progress
			if transcript != "" && status == queue.StatusTranscribing {
				if !send(state, snapshotEvent(envelopeID, transcript, progress, meta)) {
					return
				}
			}
		}

		// delta: progress strictly increased and a token payload exists.
		if progress > state.lastProgress {
			if token := meta.GetString(queue.MetaLastToken); token != "" {
				if !send(state, Event{Name: EventDelta, Data: token}) {
					return
				}
				state.lastProgress = progress
			}
			if progress-state.snapshotProgress >= snapshotStep {
				state.snapshotProgress = progress
				if !send(state, snapshotEvent(envelopeID, transcript, progress, meta)) {
					return
				}
			}
		}

		switch status {
		case queue.StatusCompleted:
			send(state, completedEvent(envelopeID, meta))
			return
		case queue.StatusFailed:
			detail := meta.GetString(queue.MetaErrorMessage)
			if detail == "" {
				detail = "transcription failed"
			}
			send(state, errorEvent(envelopeID, detail))
			return
		}

		if time.Since(state.lastEmit) >= t.HeartbeatAfter {
			// Heartbeats never advance lastProgress.
			if !send(state, heartbeatEvent(envelopeID, status, progress)) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.PollInterval):
		}
	}
}

func snapshotEvent(envelopeID, text string, progress int, meta queue.Meta) Event {
	payload := map[string]interface{}{
		"job_id":   envelopeID,
		"text":     text,
		"progress": progress,
	}
	if raw := meta.GetString(queue.MetaSegmentsPartial); raw != "" {
		payload["segments"] = json.RawMessage(raw)
	}
	return Event{Name: EventSnapshot, Data: mustJSON(payload)}
}

func heartbeatEvent(envelopeID, status string, progress int) Event {
	return Event{Name: EventHeartbeat, Data: mustJSON(map[string]interface{}{
		"job_id":   envelopeID,
		"status":   status,
		"progress": progress,
	})}
}

func completedEvent(envelopeID string, meta queue.Meta) Event {
	return Event{Name: EventCompleted, Data: mustJSON(map[string]interface{}{
		"job_id":          envelopeID,
		"transcript_key":  meta.GetString(queue.MetaTranscriptKey),
		"language":        meta.GetString(queue.MetaLanguage),
		"duration":        meta.GetFloat(queue.MetaDuration),
		"quality_profile": meta.GetString(queue.MetaQualityProfile),
	})}
}

func errorEvent(envelopeID, detail string) Event {
	return Event{Name: EventError, Data: mustJSON(map[string]interface{}{
		"job_id": envelopeID,
		"detail": detail,
	})}
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
