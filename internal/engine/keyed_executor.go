package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/quantrail/fixmirror/internal/domain"
)

// KeyedExecutor runs tasks on a bounded worker pool while serialising tasks
// that share a key. Events for one FIX order must be applied in arrival
// order to keep the state machine coherent; events for different orders run
// in parallel up to the pool size.
type KeyedExecutor struct {
	tokens chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string][]func()
	active map[string]bool
	closed bool
	wg     sync.WaitGroup
}

// NewKeyedExecutor creates a pool with the given worker count (minimum 1).
func NewKeyedExecutor(workers int, logger *slog.Logger) *KeyedExecutor {
	if workers < 1 {
		workers = 1
	}
	return &KeyedExecutor{
		tokens: make(chan struct{}, workers),
		logger: logger.With(slog.String("component", "keyed_executor")),
		queues: make(map[string][]func()),
		active: make(map[string]bool),
	}
}

// Submit queues the task under key. Tasks sharing a key run FIFO; distinct
// keys run concurrently. After Close has begun, Submit fails with
// domain.ErrShuttingDown and the task is dropped.
func (p *KeyedExecutor) Submit(key string, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrShuttingDown
	}
	p.queues[key] = append(p.queues[key], task)
	if p.active[key] {
		p.mu.Unlock()
		return nil
	}
	p.active[key] = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.drain(key)
	return nil
}

// drain owns the key until its queue empties. The pool token is held for the
// whole drain, bounding cross-key parallelism.
func (p *KeyedExecutor) drain(key string) {
	defer p.wg.Done()

	p.tokens <- struct{}{}
	defer func() { <-p.tokens }()

	for {
		p.mu.Lock()
		q := p.queues[key]
		if len(q) == 0 {
			delete(p.queues, key)
			delete(p.active, key)
			p.mu.Unlock()
			return
		}
		task := q[0]
		p.queues[key] = q[1:]
		p.mu.Unlock()

		p.run(key, task)
	}
}

// run executes one task with panic containment. A panicking handler must not
// take the session down.
func (p *KeyedExecutor) run(key string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic",
				slog.String("key", key),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	task()
}

// Close stops accepting work and waits for in-flight queues to drain until
// ctx expires, then abandons them.
func (p *KeyedExecutor) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: shutdown drain aborted: %w", ctx.Err())
	}
}
