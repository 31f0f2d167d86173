// Package confirm bridges a client-side purchase confirmation and the
// asynchronous entitlement update made by the webhook and receipt paths.
package confirm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAttempts = 7
	DefaultDelay    = 1500 * time.Millisecond
)

type Entitlement struct {
	Tier      string `json:"tier"`
	Status    string `json:"status"`
	IsPremium bool   `json:"isPremium"`
}

// EntitlementSource returns the authoritative entitlement. Implementations
// must bypass any cache between the caller and the server.
type EntitlementSource interface {
	Fetch(ctx context.Context) (Entitlement, error)
}

// Result of a polling run. Confirmed=false is not a failure: the webhook may
// simply be slower than the polling window.
type Result struct {
	Confirmed bool
	Attempts  int
	Elapsed   time.Duration
	Last      *Entitlement
}

type Poller struct {
	source   EntitlementSource
	attempts int
	delay    time.Duration
	log      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Poller)

func WithAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.delay = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock replaces the wait and time source, for tests.
func WithClock(sleep func(ctx context.Context, d time.Duration) error, now func() time.Time) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
		if now != nil {
			p.now = now
		}
	}
}

func NewPoller(source EntitlementSource, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		log:      zap.NewNop(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run waits before every attempt and stops at the first premium answer.
// Fetch errors are logged and the next attempt proceeds. Cancelling ctx ends
// the run early without an error.
func (p *Poller) Run(ctx context.Context) Result {
	started := p.now()
	var res Result

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := p.sleep(ctx, p.delay); err != nil {
			break
		}
		res.Attempts = attempt

		ent, err := p.source.Fetch(ctx)
		if err != nil {
			p.log.Debug("entitlement fetch failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		res.Last = &ent
		if ent.IsPremium {
			res.Confirmed = true
			break
		}
	}

	res.Elapsed = p.now().Sub(started)
	p.log.Info("confirmation poll finished",
		zap.Bool("confirmed", res.Confirmed),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
