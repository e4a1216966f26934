package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BestEffortFunc is a side task whose failure must never affect the caller.
// Its error is logged and dropped.
type BestEffortFunc func(ctx context.Context) error

// Dispatcher runs best-effort tasks without the caller waiting on them.
type Dispatcher interface {
	Dispatch(name string, fn BestEffortFunc)
}

// GoDispatcher runs each task on its own goroutine with a timeout. When
// maxInFlight tasks are already running new tasks are dropped.
type GoDispatcher struct {
	wg      sync.WaitGroup
	sem     chan struct{}
	timeout time.Duration
}

func NewGoDispatcher(maxInFlight int, timeout time.Duration) *GoDispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &GoDispatcher{
		sem:     make(chan struct{}, maxInFlight),
		timeout: timeout,
	}
}

func (d *GoDispatcher) Dispatch(name string, fn BestEffortFunc) {
	select {
	case d.sem <- struct{}{}:
	default:
		log.Debug().Str("task", name).Msg("Best-effort queue full, dropping task")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Str("task", name).Str("panic", fmt.Sprint(r)).Msg("Best-effort task panicked")
			}
		}()

		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("task", name).Msg("Best-effort task failed")
		}
	}()
}

// Wait blocks until every dispatched task has returned.
func (d *GoDispatcher) Wait() {
	d.wg.Wait()
}

// InlineDispatcher runs tasks synchronously. Used where ordering matters
// more than latency, such as tests and one-shot tools.
type InlineDispatcher struct{}

func (InlineDispatcher) Dispatch(name string, fn BestEffortFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("task", name).Str("panic", fmt.Sprint(r)).Msg("Best-effort task panicked")
		}
	}()
	if err := fn(context.Background()); err != nil {
		log.Warn().Err(err).Str("task", name).Msg("Best-effort task failed")
	}
}
