package queue

import (
	"context"
	"fmt"

	"scribeflow/pkg/logger"
)

// Select picks a backend per the queue_backend configuration value:
//
//   - "memory" always uses the in-process fallback.
//   - "broker" always returns the Redis-backed queue. The connection is
//     lazy, so an unreachable broker does not stop the process; enqueues
//     surface ErrBrokerUnavailable (an upstream-unavailable error to the
//     client) until it comes back.
//   - "auto" probes the broker once and falls back to memory for the
//     process lifetime on failure, logging the downgrade.
//
// Only configuration mistakes (a malformed URL, an unknown backend name)
// are returned as errors.
func Select(backend, brokerURL string, workers int, handler Handler) (Queue, error) {
	switch backend {
	case "memory":
		return NewMemoryQueue(handler), nil
	case "broker":
		q, err := NewBrokerQueue(brokerURL, workers, handler)
		if err != nil {
			return nil, err
		}
		if err := q.Ping(context.Background()); err != nil {
			logger.Warn("Broker unreachable at startup, submissions will fail until it returns",
				"broker_url", brokerURL, "error", err)
		}
		return q, nil
	case "auto":
		q, err := NewBrokerQueue(brokerURL, workers, handler)
		if err != nil {
			logger.Warn("Broker misconfigured, using in-process queue for this process",
				"broker_url", brokerURL, "error", err)
			return NewMemoryQueue(handler), nil
		}
		if err := q.Ping(context.Background()); err != nil {
			logger.Warn("Broker unreachable, using in-process queue for this process",
				"broker_url", brokerURL, "error", err)
			q.Stop()
			return NewMemoryQueue(handler), nil
		}
		return q, nil
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", backend)
	}
}
