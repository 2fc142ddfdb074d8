package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadState is the backend lifecycle.
type LoadState int

const (
	NotStarted LoadState = iota
	InProgress
	Ready
	Failed
)

func (s LoadState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// BackendFactory opens a store backend.
type BackendFactory func(ctx context.Context) (*vector.Backend, error)

// loader opens the backend once. Concurrent callers share one attempt; a failed
// attempt is not cached, so the next call starts over.
type loader struct {
	primary  BackendFactory
	fallback BackendFactory
	group    singleflight.Group
	logger   *zap.Logger

	mu         sync.Mutex
	state      LoadState
	backend    *vector.Backend
	degraded   error
	closed     bool
	onDegraded func(error)
	once       sync.Once
}

func newLoader(primary, fallback BackendFactory, logger *zap.Logger) *loader {
	return &loader{primary: primary, fallback: fallback, logger: logger}
}

// State returns the current lifecycle state.
func (l *loader) State() LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Get returns the ready backend, initializing it if needed.
func (l *loader) Get(ctx context.Context) (*vector.Backend, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, models.ErrClosed
	}
	if l.state == Ready {
		b := l.backend
		l.mu.Unlock()
		return b, nil
	}
	l.state = InProgress
	l.mu.Unlock()

	v, err, _ := l.group.Do("backend", func() (interface{}, error) {
		l.mu.Lock()
		if l.state == Ready {
			b := l.backend
			l.mu.Unlock()
			return b, nil
		}
		l.mu.Unlock()
		// Initialization outlives the caller that happened to trigger it.
		return l.open(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*vector.Backend), nil
}

func (l *loader) open(ctx context.Context) (*vector.Backend, error) {
	b, err := l.primary(ctx)
	if err == nil {
		return l.ready(b, nil)
	}
	initErr := &models.StoreInitializationError{Backend: "primary", Err: err}
	if l.logger != nil {
		l.logger.Warn("primary store failed to open, trying fallback", zap.Error(err))
	}
	if l.fallback == nil {
		l.fail()
		return nil, initErr
	}
	fb, fbErr := l.fallback(ctx)
	if fbErr != nil {
		l.fail()
		return nil, fmt.Errorf("%w; fallback: %w", initErr, fbErr)
	}
	fb.Degraded = true
	return l.ready(fb, initErr)
}

func (l *loader) ready(b *vector.Backend, degraded error) (*vector.Backend, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = b.Close()
		return nil, models.ErrClosed
	}
	l.state = Ready
	l.backend = b
	l.degraded = degraded
	handler := l.onDegraded
	l.mu.Unlock()
	if degraded != nil {
		if l.logger != nil {
			l.logger.Error("running in degraded mode on the fallback store", zap.Error(degraded))
		}
		if handler != nil {
			l.once.Do(func() { handler(degraded) })
		}
	}
	return b, nil
}

func (l *loader) fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.state = Failed
	}
}

// Degraded reports whether the fallback store is serving, and why.
func (l *loader) Degraded() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded != nil, l.degraded
}

// Close closes the backend if it was opened.
func (l *loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	b := l.backend
	l.backend = nil
	l.state = NotStarted
	if b == nil {
		return nil
	}
	return b.Close()
}
