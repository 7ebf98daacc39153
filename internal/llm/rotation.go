package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

// Entry pairs a provider with the model it should be called with.
// A pool may hold the same provider several times under different
// models or credentials.
type Entry struct {
	Provider Provider
	Model    string
}

func (e Entry) label() string {
	if e.Model == "" {
		return e.Provider.Name()
	}
	return e.Provider.Name() + "/" + e.Model
}

type poolState int

const (
	stateSelecting poolState = iota
	stateCalling
	stateBackingOff
	stateExhausted
)

// Pool rotates inference calls across an ordered list of entries.
// When an entry is rate limited or unavailable the pool moves to the
// next one; once a full pass fails it backs off for the cooldown and
// resumes at the entry it stopped on, so long batch runs pick up where
// they left off.
type Pool struct {
	entries  []Entry
	next     int
	cooldown time.Duration
	maxPasses int
	logger   *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// PoolConfig holds configuration for a rotation pool.
type PoolConfig struct {
	Entries []Entry

	// Cooldown is how long to wait after a full pass of the pool has
	// been rate limited (default: 60s).
	Cooldown time.Duration

	// MaxPasses bounds how many full passes (cooldowns included) a
	// single Generate call may take before giving up (default: 3).
	MaxPasses int

	Logger *slog.Logger
}

// NewPool creates a rotation pool over the given entries.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Entries) == 0 {
		return nil, errors.New("rotation pool needs at least one entry")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pool{
		entries:   cfg.Entries,
		cooldown:  cfg.Cooldown,
		maxPasses: cfg.MaxPasses,
		logger:    cfg.Logger,
		sleep:     sleepCtx,
	}, nil
}

// Current returns the entry the next call will start from.
func (p *Pool) Current() Entry {
	return p.entries[p.next]
}

// Generate walks the pool until an entry answers. Rate-limited and
// unavailable entries are skipped; malformed output and other errors
// are returned to the caller, since rotating providers will not fix a
// bad sample or a bad request.
func (p *Pool) Generate(ctx context.Context, req *Request) (*Response, error) {
	state := stateSelecting
	tried := 0
	passes := 0
	var lastErr error

	for {
		switch state {
		case stateSelecting:
			if tried >= len(p.entries) {
				tried = 0
				passes++
				if passes >= p.maxPasses {
					state = stateExhausted
					continue
				}
				state = stateBackingOff
				continue
			}
			state = stateCalling

		case stateCalling:
			entry := p.entries[p.next]
			callReq := *req
			if callReq.Model == "" {
				callReq.Model = entry.Model
			}

			resp, err := entry.Provider.Generate(ctx, &callReq)
			if err == nil {
				return resp, nil
			}

			switch {
			case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrUpstreamUnavailable):
				p.logger.Warn("rotating past entry",
					"entry", entry.label(),
					"error", err)
				lastErr = err
				p.next = (p.next + 1) % len(p.entries)
				tried++
				state = stateSelecting
			default:
				return nil, err
			}

		case stateBackingOff:
			p.logger.Info("rotation pool cooling down",
				"cooldown", p.cooldown,
				"resume", p.entries[p.next].label())
			if err := p.sleep(ctx, p.cooldown); err != nil {
				return nil, err
			}
			state = stateSelecting

		case stateExhausted:
			if lastErr == nil {
				lastErr = domain.ErrUpstreamUnavailable
			}
			return nil, fmt.Errorf("rotation pool exhausted after %d passes: %w", passes, lastErr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
