package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"scribeflow/pkg/logger"
)

const (
	pendingKey        = "scribeflow:queue:pending"
	envelopeKeyPrefix = "scribeflow:envelope:"
	envelopeTTL       = 24 * time.Hour
)

// BrokerQueue is the Redis-backed backend. Envelope metadata is persisted
// as a JSON hash field so stream subscribers in other processes observe
// worker updates within one poll cycle.
type BrokerQueue struct {
	client  redis.UniversalClient
	handler Handler
	workers int

	mu     sync.RWMutex
	states map[string]string // local lifecycle for envelopes this process runs

	// down squelches repeated connection-failure logging while the
	// broker is unreachable.
	down atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBrokerQueue builds the queue around the broker at url. The
// connection is lazy: nothing is probed here, so a broker that is down
// at boot does not stop the process. Operations surface
// ErrBrokerUnavailable until it comes back, and the consumer pool keeps
// retrying in the background.
func NewBrokerQueue(url string, workers int, handler Handler) (*BrokerQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse broker url: %w", err)
	}
	return NewBrokerQueueWithClient(redis.NewClient(opts), workers, handler), nil
}

// Ping probes the broker with a short deadline.
func (q *BrokerQueue) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// NewBrokerQueueWithClient wires an existing client, used by tests to run
// against an embedded Redis.
func NewBrokerQueueWithClient(client redis.UniversalClient, workers int, handler Handler) *BrokerQueue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BrokerQueue{
		client:  client,
		handler: handler,
		workers: workers,
		states:  make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *BrokerQueue) Backend() string { return "broker" }

// Start launches the consumer pool.
func (q *BrokerQueue) Start() {
	logger.Info("Starting broker queue consumers", "workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.consume(i)
	}
}

// Stop cancels consumers and waits for in-flight jobs.
func (q *BrokerQueue) Stop() {
	q.cancel()
	q.wg.Wait()
	_ = q.client.Close()
}

func (q *BrokerQueue) Enqueue(ctx context.Context, function string, argv []string, meta Meta, timeout time.Duration) (*Envelope, error) {
	env := &Envelope{
		ID:       uuid.New().String(),
		Function: function,
		Argv:     argv,
		Timeout:  timeout,
		meta:     seedMeta(meta),
		q:        q,
	}

	argvJSON, err := json.Marshal(argv)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(env.meta)
	if err != nil {
		return nil, err
	}

	key := envelopeKeyPrefix + env.ID
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"function":   function,
		"argv":       string(argvJSON),
		"meta":       string(metaJSON),
		"timeout_ms": timeout.Milliseconds(),
	})
	pipe.Expire(ctx, key, envelopeTTL)
	pipe.LPush(ctx, pendingKey, env.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return env, nil
}

func (q *BrokerQueue) Fetch(ctx context.Context, id string) (*Envelope, error) {
	key := envelopeKeyPrefix + id
	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var argv []string
	if raw := fields["argv"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &argv); err != nil {
			return nil, fmt.Errorf("queue: corrupt argv for %s: %w", id, err)
		}
	}
	meta := Meta{}
	if raw := fields["meta"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("queue: corrupt meta for %s: %w", id, err)
		}
	}
	var timeout time.Duration
	if raw := fields["timeout_ms"]; raw != "" {
		var ms int64
		fmt.Sscanf(raw, "%d", &ms)
		timeout = time.Duration(ms) * time.Millisecond
	}

	return &Envelope{
		ID:       id,
		Function: fields["function"],
		Argv:     argv,
		Timeout:  timeout,
		meta:     meta,
		q:        q,
	}, nil
}

func (q *BrokerQueue) Length(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	q.mu.RLock()
	running := 0
	for _, state := range q.states {
		if state == "started" {
			running++
		}
	}
	q.mu.RUnlock()
	return int(n) + running, nil
}

// consume pops envelope ids and drives the handler. BRPOP with a short
// timeout keeps shutdown responsive without busy-polling.
func (q *BrokerQueue) consume(worker int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		res, err := q.client.BRPop(q.ctx, time.Second, pendingKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if q.down.CompareAndSwap(false, true) {
				logger.Warn("Broker unreachable, consumers will keep retrying", "worker", worker, "error", err)
			} else {
				logger.Debug("Broker pop failed", "worker", worker, "error", err)
			}
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if q.down.CompareAndSwap(true, false) {
			logger.Info("Broker connection restored", "worker", worker)
		}
		if len(res) < 2 {
			continue
		}
		q.runEnvelope(worker, res[1])
	}
}

func (q *BrokerQueue) runEnvelope(worker int, id string) {
	env, err := q.Fetch(q.ctx, id)
	if err != nil {
		logger.Error("Dropping unfetchable envelope", "worker", worker, "envelope_id", id, "error", err)
		return
	}

	ctx := q.ctx
	var cancel context.CancelFunc
	if env.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, env.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	q.setState(id, "started")
	err = q.handler(ctx, env)
	if err != nil {
		msg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = "timeout"
		}
		env.UpdateMeta(func(m Meta) {
			if m.GetString(MetaStatus) != StatusFailed {
				m[MetaStatus] = StatusFailed
			}
			if m.GetString(MetaErrorMessage) == "" {
				m[MetaErrorMessage] = msg
			}
		})
		// Persist with a fresh context: the job context may already be
		// cancelled.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if saveErr := env.SaveMeta(saveCtx); saveErr != nil {
			logger.Error("Failed to persist terminal envelope meta", "envelope_id", id, "error", saveErr)
		}
		saveCancel()
		q.setState(id, "failed")
		logger.Error("Broker job failed", "worker", worker, "envelope_id", id, "error", err)
		return
	}
	if env.Meta().GetString(MetaStatus) == StatusFailed {
		q.setState(id, "failed")
		return
	}
	q.setState(id, "finished")
}

func (q *BrokerQueue) setState(id, state string) {
	q.mu.Lock()
	q.states[id] = state
	q.mu.Unlock()
}

// persister

func (q *BrokerQueue) saveMeta(ctx context.Context, id string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := q.client.HSet(ctx, envelopeKeyPrefix+id, "meta", string(data)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (q *BrokerQueue) loadMeta(ctx context.Context, id string) (Meta, error) {
	raw, err := q.client.HGet(ctx, envelopeKeyPrefix+id, "meta").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	meta := Meta{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("queue: corrupt meta for %s: %w", id, err)
	}
	return meta, nil
}

func (q *BrokerQueue) status(id string) string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.states[id]
}
