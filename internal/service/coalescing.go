package service

import (
	"context"
	"sync"
	"time"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// resolutionFlight tracks a single upstream points lookup that multiple
// callers may wait on.
type resolutionFlight struct {
	mu      sync.Mutex
	cell    models.GridCell
	err     error
	done    bool
	waiters []chan struct{}
}

// resolutionCoalescer collapses concurrent grid resolutions for the same
// coordinate key into one upstream call. Waiters receive the leader's result.
type resolutionCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*resolutionFlight
	timeout  time.Duration
}

func newResolutionCoalescer(timeout time.Duration) *resolutionCoalescer {
	return &resolutionCoalescer{
		inFlight: make(map[string]*resolutionFlight),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a resolution for key is already in flight,
// in which case it waits for that one. The second return value reports
// whether the caller was coalesced onto an existing flight.
func (rc *resolutionCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.GridCell, error)) (models.GridCell, bool, error) {
	rc.mu.Lock()
	flight, exists := rc.inFlight[key]
	if exists {
		rc.mu.Unlock()
		cell, err := rc.wait(ctx, flight)
		return cell, true, err
	}

	flight = &resolutionFlight{}
	rc.inFlight[key] = flight
	rc.mu.Unlock()

	go func() {
		cell, err := fn()

		flight.mu.Lock()
		flight.cell = cell
		flight.err = err
		flight.done = true
		waiters := flight.waiters
		flight.waiters = nil
		flight.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
	}()

	cell, err := rc.wait(ctx, flight)
	return cell, false, err
}

func (rc *resolutionCoalescer) wait(ctx context.Context, flight *resolutionFlight) (models.GridCell, error) {
	flight.mu.Lock()
	if flight.done {
		cell, err := flight.cell, flight.err
		flight.mu.Unlock()
		return cell, err
	}
	notify := make(chan struct{})
	flight.waiters = append(flight.waiters, notify)
	flight.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		flight.mu.Lock()
		cell, err := flight.cell, flight.err
		flight.mu.Unlock()
		return cell, err
	case <-waitCtx.Done():
		return models.GridCell{}, waitCtx.Err()
	}
}
