// Package app exposes the trading core to its caller (the chat/UI layer):
// trading toggles, per-user status and stats, and the service run loop.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
	"tradingx/internal/scheduler"
	"tradingx/internal/utils"
)

// Status is the read-only per-user snapshot. Built from local state only;
// never blocks on network calls to the exchange.
type Status struct {
	Enabled         bool
	HasOpenPosition bool
}

// Service orchestrates the trading core and fronts it for the UI layer.
type Service struct {
	users     ports.UserStore
	outcomes  ports.OutcomeRepository
	scheduler *scheduler.Scheduler
	logger    ports.Logger
}

// NewService creates the application service.
func NewService(users ports.UserStore, outcomes ports.OutcomeRepository, sched *scheduler.Scheduler, logger ports.Logger) (*Service, error) {
	if users == nil || outcomes == nil || sched == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for service")
	}
	return &Service{users: users, outcomes: outcomes, scheduler: sched, logger: logger}, nil
}

// Start runs the scheduler until the context is canceled or a shutdown signal
// arrives. In-flight lifecycles drain through their own exit handling.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info(ctx, "Trading service starting")
	s.scheduler.Run(ctx)
	s.logger.Info(ctx, "Trading service stopped")
	return nil
}

// RegisterUser creates the account if absent.
func (s *Service) RegisterUser(ctx context.Context, userID int64, username string) (*domain.UserAccount, error) {
	return s.users.CreateUser(ctx, userID, username)
}

// EnableTrading switches a user's automated trading on. The user becomes
// eligible on the next scheduler tick.
func (s *Service) EnableTrading(ctx context.Context, userID int64) error {
	return s.users.SetStatus(ctx, userID, domain.StatusActive)
}

// DisableTrading switches a user's automated trading off. A running lifecycle
// observes the flag on its next monitoring iteration and exits its position;
// it is never abandoned mid-flight.
func (s *Service) DisableTrading(ctx context.Context, userID int64) error {
	return s.users.SetStatus(ctx, userID, domain.StatusInactive)
}

// GetStatus returns the user's current snapshot.
func (s *Service) GetStatus(ctx context.Context, userID int64) (*Status, error) {
	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ports.ErrNotFound)
	}
	return &Status{
		Enabled:         account.TradingEnabled(),
		HasOpenPosition: s.scheduler.HasActiveLifecycle(userID),
	}, nil
}

// GetStats aggregates the user's recorded trade outcomes.
func (s *Service) GetStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	return s.outcomes.StatsByUser(ctx, userID)
}

// GetHistory returns the user's most recent trades, newest first.
func (s *Service) GetHistory(ctx context.Context, userID int64, limit int) ([]*domain.TradeOutcome, error) {
	return s.outcomes.FindByUser(ctx, userID, limit)
}

// ExportHistory writes the user's most recent trades to a CSV file.
func (s *Service) ExportHistory(ctx context.Context, userID int64, limit int, filename string) error {
	outcomes, err := s.outcomes.FindByUser(ctx, userID, limit)
	if err != nil {
		return err
	}
	if err := utils.WriteOutcomesToCSV(outcomes, filename); err != nil {
		return fmt.Errorf("export trade history for user %d: %w", userID, err)
	}
	s.logger.Info(ctx, "Trade history exported", map[string]interface{}{"userID": userID, "count": len(outcomes), "filename": filename})
	return nil
}
