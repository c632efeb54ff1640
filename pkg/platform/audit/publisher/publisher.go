// Package publisher fans audit events into an audit.Store, either inline or
// through a bounded buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "chatguard/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
}

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	buffer    chan audit.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	// mu orders buffered sends before Close signals the drain loop.
	mu       sync.RWMutex
	shutdown bool
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the store.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return p.store.Append(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.buffer:
			p.append(event)
		case <-p.closed:
			for {
				select {
				case event := <-p.buffer:
					p.append(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) append(event audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Warn("failed to append audit event", "action", event.Action, "error", err)
	}
}

// List reads events back when the store supports it.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListBySubject(ctx, subject)
}

// Close drains buffered events and stops the background goroutine.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.shutdown = true
		p.mu.Unlock()
		close(p.closed)
		p.wg.Wait()
	})
}
