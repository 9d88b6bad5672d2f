// Package scheduler runs the periodic tick that starts one position lifecycle
// per eligible user, guaranteeing no user ever has two lifecycles running.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
)

// MarketScanner provides the shared market-wide pass, run once per tick and
// reused across all users dispatched that tick.
type MarketScanner interface {
	Scan(ctx context.Context) ([]*domain.Signal, error)
}

// Config holds scheduler parameters.
type Config struct {
	TickInterval time.Duration // Period between user sweeps
	MinCapital   float64       // Readiness floor, re-checked every tick
}

// Scheduler owns the per-user slot map. A slot strictly alternates
// FREE -> OCCUPIED -> FREE; acquisition is an atomic check-and-set so two
// concurrent ticks can never start duplicate lifecycles for one user.
type Scheduler struct {
	cfg     Config
	users   ports.UserStore
	scanner MarketScanner
	run     RunFunc
	logger  ports.Logger

	mu    sync.Mutex
	slots map[int64]struct{}
	wg    sync.WaitGroup
}

// RunFunc executes one lifecycle for a user against a candidate. It must be
// safe for concurrent invocation across distinct users.
type RunFunc func(ctx context.Context, userID int64, sig *domain.Signal)

// New creates a Scheduler instance.
func New(cfg Config, users ports.UserStore, scanner MarketScanner, run RunFunc, logger ports.Logger) (*Scheduler, error) {
	if users == nil || scanner == nil || run == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for scheduler")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("TickInterval must be positive")
	}
	return &Scheduler{
		cfg:     cfg,
		users:   users,
		scanner: scanner,
		run:     run,
		logger:  logger,
		slots:   make(map[int64]struct{}),
	}, nil
}

// Run drives ticks until the context is canceled, then waits for in-flight
// lifecycles to finish (each routes through its own exit handling).
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{"interval": s.cfg.TickInterval.String()})
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Scheduler stopping, waiting for active lifecycles")
			s.wg.Wait()
			s.logger.Info(ctx, "Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one sweep: list enabled users, run the shared market scan,
// and dispatch a lifecycle for every ready user without an occupied slot.
func (s *Scheduler) Tick(ctx context.Context) {
	users, err := s.users.FindActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Tick skipped: could not list active users")
		return
	}
	if len(users) == 0 {
		s.logger.Debug(ctx, "No active users this tick")
		return
	}

	// One market-wide pass shared by every user dispatched this tick.
	signals, err := s.scanner.Scan(ctx)
	if err != nil {
		// Transient gateway outage: retried on the next tick.
		s.logger.Warn(ctx, "Tick skipped: market scan failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(signals) == 0 {
		s.logger.Debug(ctx, "No opportunities this cycle")
		return
	}
	best := signals[0]

	for _, user := range users {
		// Readiness is re-evaluated every tick, never cached.
		if !user.IsReady() || user.Capital < s.cfg.MinCapital {
			s.logger.Debug(ctx, "User not ready, skipping", map[string]interface{}{"userID": user.ID})
			continue
		}
		if !s.tryAcquire(user.ID) {
			// Still occupied by a running lifecycle: a no-op, never queued.
			s.logger.Debug(ctx, "User slot occupied, skipping", map[string]interface{}{"userID": user.ID})
			continue
		}
		s.dispatch(ctx, user.ID, best)
	}
}

// dispatch starts the lifecycle asynchronously. The slot release is
// unconditional: deferred past a panic recovery so a crashed lifecycle can
// never permanently occupy its user's slot.
func (s *Scheduler) dispatch(ctx context.Context, userID int64, sig *domain.Signal) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(userID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Lifecycle panicked", map[string]interface{}{"userID": userID})
			}
		}()
		s.run(ctx, userID, sig)
	}()
}

// tryAcquire atomically claims the user's slot. Returns false when occupied.
func (s *Scheduler) tryAcquire(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, occupied := s.slots[userID]; occupied {
		return false
	}
	s.slots[userID] = struct{}{}
	return true
}

func (s *Scheduler) release(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, userID)
}

// HasActiveLifecycle reports whether a lifecycle is currently running for the
// user. Snapshot only; no network calls.
func (s *Scheduler) HasActiveLifecycle(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, occupied := s.slots[userID]
	return occupied
}

// ActiveCount returns the number of occupied slots.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
