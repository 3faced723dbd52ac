package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	memoryQueueBuffer      = 1024
	memoryDeliveryAttempts = 3
)

// MemoryRelay is an in-process relay for single-binary development and tests.
// Each queue delivers FIFO on its own goroutine, or inline with Publish when
// created with NewSyncMemoryRelay.
type MemoryRelay struct {
	logger *zap.Logger
	inline bool

	mu     sync.RWMutex
	queues map[string][]*memoryQueue
	closed bool
	wg     sync.WaitGroup
}

type memoryQueue struct {
	name    string
	handler HandlerFunc
	ch      chan []byte

	mu          sync.Mutex
	deadLetters [][]byte
}

func NewMemoryRelay(logger *zap.Logger) *MemoryRelay {
	return &MemoryRelay{logger: logger.Named("memory-relay"), queues: make(map[string][]*memoryQueue)}
}

// NewSyncMemoryRelay delivers to subscribers before Publish returns.
func NewSyncMemoryRelay(logger *zap.Logger) *MemoryRelay {
	r := NewMemoryRelay(logger)
	r.inline = true
	return r
}

func (r *MemoryRelay) Publish(ctx context.Context, routingKey, partitionKey string, body []byte) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	if r.inline {
		queues := append([]*memoryQueue(nil), r.queues[routingKey]...)
		r.mu.RUnlock()
		for _, q := range queues {
			r.deliver(ctx, q, append([]byte(nil), body...))
		}
		return nil
	}
	defer r.mu.RUnlock()

	// sends stay under the read lock so Close cannot close a channel mid-send
	for _, q := range r.queues[routingKey] {
		select {
		case q.ch <- append([]byte(nil), body...):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *MemoryRelay) Subscribe(ctx context.Context, queue, routingKey string, h HandlerFunc) error {
	q := &memoryQueue{name: queue, handler: h}
	if !r.inline {
		q.ch = make(chan []byte, memoryQueueBuffer)
	}

	r.mu.Lock()
	r.queues[routingKey] = append(r.queues[routingKey], q)
	r.mu.Unlock()

	if r.inline {
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-q.ch:
				if !ok {
					return
				}
				r.deliver(ctx, q, msg)
			}
		}
	}()
	return nil
}

func (r *MemoryRelay) deliver(ctx context.Context, q *memoryQueue, body []byte) {
	var err error
	for attempt := 1; attempt <= memoryDeliveryAttempts; attempt++ {
		if err = q.handler(ctx, body); err == nil {
			return
		}
		r.logger.Warn("delivery failed", zap.String("queue", q.name), zap.Int("attempt", attempt), zap.Error(err))
	}
	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, body)
	q.mu.Unlock()
}

// DeadLetters returns messages queue gave up on.
func (r *MemoryRelay) DeadLetters(queue string) [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out [][]byte
	for _, qs := range r.queues {
		for _, q := range qs {
			if q.name != queue {
				continue
			}
			q.mu.Lock()
			out = append(out, q.deadLetters...)
			q.mu.Unlock()
		}
	}
	return out
}

func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, qs := range r.queues {
		for _, q := range qs {
			if q.ch != nil {
				close(q.ch)
			}
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
