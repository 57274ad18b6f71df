package sse

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scribeflow/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingQueue enqueues envelopes whose handler parks until released, so
// tests can mutate metadata mid-flight the way a worker would.
func blockingQueue(t *testing.T) (*queue.MemoryQueue, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	q := queue.NewMemoryQueue(func(ctx context.Context, env *queue.Envelope) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		q.Stop()
	})
	return q, release
}

func fastTailer(q queue.Queue) *Tailer {
	t := NewTailer(q)
	t.PollInterval = 5 * time.Millisecond
	t.HeartbeatAfter = 40 * time.Millisecond
	return t
}

func collect(ch <-chan Event, max int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
			if len(out) >= max {
				return out
			}
		case <-deadline:
			return out
		}
	}
}

func decode(t *testing.T, data string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data), &m))
	return m
}

func TestUnknownJobYieldsSingleErrorEvent(t *testing.T) {
	q, _ := blockingQueue(t)
	tailer := fastTailer(q)

	events := collect(tailer.Tail(context.Background(), "no-such-id", 1), 10, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Name)
	assert.Equal(t, "job-not-found", decode(t, events[0].Data)["detail"])
}

func TestNonOwnerSeesSameNotFound(t *testing.T) {
	q, _ := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)

	// Owner 2 tails a job seeded with user_id 1.
	tailer := fastTailer(q)
	events := collect(tailer.Tail(context.Background(), env.ID, 2), 10, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Name)
	assert.Equal(t, "job-not-found", decode(t, events[0].Data)["detail"])
}

func TestDeltaThenCompletedSequence(t *testing.T) {
	q, release := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)

	tailer := fastTailer(q)
	ch := tailer.Tail(context.Background(), env.ID, 1)

	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusTranscribing
		m[queue.MetaProgress] = 10
		m[queue.MetaLastToken] = `{"text":"hola","t_start":0,"t_end":0.5,"segment":0}`
		m[queue.MetaTranscriptSoFar] = "hola"
	})
	time.Sleep(30 * time.Millisecond)
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusCompleted
		m[queue.MetaProgress] = 100
		m[queue.MetaTranscriptKey] = "1/a.wav.txt"
		m[queue.MetaLanguage] = "es"
		m[queue.MetaDuration] = 1.0
		m[queue.MetaQualityProfile] = "balanced"
	})
	close(release)

	events := collect(ch, 20, 2*time.Second)
	require.NotEmpty(t, events)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}

	// At least one delta, exactly one terminal, and the terminal is last.
	assert.Contains(t, names, EventDelta)
	terminalCount := 0
	for _, n := range names {
		if n == EventCompleted || n == EventError {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount, "events: %v", names)
	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Name)

	payload := decode(t, last.Data)
	assert.Equal(t, "1/a.wav.txt", payload["transcript_key"])
	assert.Equal(t, "es", payload["language"])
	assert.Equal(t, "balanced", payload["quality_profile"])
}

func TestSnapshotOnReconnectToInFlightJob(t *testing.T) {
	q, _ := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)

	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusTranscribing
		m[queue.MetaProgress] = 42
		m[queue.MetaTranscriptSoFar] = "hola mundo"
		m[queue.MetaSegmentsPartial] = `[{"start":0,"end":1,"text":"hola mundo"}]`
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer := fastTailer(q)
	events := collect(tailer.Tail(ctx, env.ID, 1), 1, time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, EventSnapshot, events[0].Name)

	payload := decode(t, events[0].Data)
	assert.Equal(t, "hola mundo", payload["text"])
	assert.Equal(t, float64(42), payload["progress"])
	assert.NotNil(t, payload["segments"])
}

func TestHeartbeatWhenIdle(t *testing.T) {
	q, _ := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusTranscribing
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer := fastTailer(q)
	events := collect(tailer.Tail(ctx, env.ID, 1), 1, time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, EventHeartbeat, events[0].Name)

	payload := decode(t, events[0].Data)
	assert.Equal(t, "transcribing", payload["status"])
}

func TestFailureSurfacesOnce(t *testing.T) {
	q, _ := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusFailed
		m[queue.MetaErrorMessage] = "decoder exploded"
	})

	tailer := fastTailer(q)
	events := collect(tailer.Tail(context.Background(), env.ID, 1), 5, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Name)
	assert.Equal(t, "decoder exploded", decode(t, events[0].Data)["detail"])
}

func TestCancellationClosesWithinOneCycle(t *testing.T) {
	q, _ := blockingQueue(t)
	env, err := q.Enqueue(context.Background(), "transcribe_job", nil, queue.Meta{queue.MetaUserID: 1}, 0)
	require.NoError(t, err)
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusTranscribing
	})

	ctx, cancel := context.WithCancel(context.Background())
	tailer := fastTailer(q)
	ch := tailer.Tail(ctx, env.ID, 1)
	cancel()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestWriteEventFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteEvent(rec, Event{Name: EventDelta, Data: `{"text":"hola"}`}))

	body := rec.Body.String()
	assert.Equal(t, "event: delta\ndata: {\"text\":\"hola\"}\n\n", body)
	assert.Equal(t, 1, strings.Count(body, "event:"))
}
