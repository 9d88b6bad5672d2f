package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
	"tradingx/internal/scheduler"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockUserStore struct {
	ports.UserStore

	accounts map[int64]*domain.UserAccount
}

func (m *mockUserStore) CreateUser(ctx context.Context, id int64, username string) (*domain.UserAccount, error) {
	if acc, ok := m.accounts[id]; ok {
		return acc, nil
	}
	acc := &domain.UserAccount{ID: id, Username: username, Status: domain.StatusInactive}
	m.accounts[id] = acc
	return acc, nil
}

func (m *mockUserStore) FindByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	return m.accounts[id], nil
}

func (m *mockUserStore) FindActive(ctx context.Context) ([]*domain.UserAccount, error) {
	var out []*domain.UserAccount
	for _, acc := range m.accounts {
		if acc.TradingEnabled() {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m *mockUserStore) SetStatus(ctx context.Context, id int64, status domain.UserStatus) error {
	acc, ok := m.accounts[id]
	if !ok {
		return ports.ErrNotFound
	}
	acc.Status = status
	return nil
}

type mockOutcomeRepo struct {
	ports.OutcomeRepository

	stats   *domain.UserStats
	history []*domain.TradeOutcome
}

func (m *mockOutcomeRepo) StatsByUser(ctx context.Context, userID int64) (*domain.UserStats, error) {
	return m.stats, nil
}

func (m *mockOutcomeRepo) FindByUser(ctx context.Context, userID int64, limit int) ([]*domain.TradeOutcome, error) {
	if len(m.history) > limit {
		return m.history[:limit], nil
	}
	return m.history, nil
}

type mockScanner struct {
	signals []*domain.Signal
}

func (m *mockScanner) Scan(ctx context.Context) ([]*domain.Signal, error) { return m.signals, nil }

// Helpers

func newTestService(t *testing.T, users *mockUserStore, repo *mockOutcomeRepo, scanner *mockScanner, run scheduler.RunFunc) (*Service, *scheduler.Scheduler) {
	t.Helper()
	if run == nil {
		run = func(ctx context.Context, userID int64, sig *domain.Signal) {}
	}
	if scanner == nil {
		scanner = &mockScanner{}
	}
	sched, err := scheduler.New(scheduler.Config{TickInterval: time.Hour, MinCapital: 5}, users, scanner, run, &mockLogger{})
	require.NoError(t, err)
	svc, err := NewService(users, repo, sched, &mockLogger{})
	require.NoError(t, err)
	return svc, sched
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// Tests

func TestEnableDisableTrading(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{}}
	svc, _ := newTestService(t, users, &mockOutcomeRepo{}, nil, nil)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, 1, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.EnableTrading(ctx, 1))
	status, err := svc.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, status.Enabled)

	require.NoError(t, svc.DisableTrading(ctx, 1))
	status, err = svc.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestRegisterUser_Idempotent(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{}}
	svc, _ := newTestService(t, users, &mockOutcomeRepo{}, nil, nil)
	ctx := context.Background()

	first, err := svc.RegisterUser(ctx, 1, "alice")
	require.NoError(t, err)
	second, err := svc.RegisterUser(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGetStatus_UnknownUser(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{}}
	svc, _ := newTestService(t, users, &mockOutcomeRepo{}, nil, nil)

	_, err := svc.GetStatus(context.Background(), 42)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestGetStatus_ReflectsActiveLifecycle(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{
		1: {ID: 1, Capital: 100, Status: domain.StatusActive, HasCredentials: true},
	}}

	block := make(chan struct{})
	run := func(ctx context.Context, userID int64, sig *domain.Signal) {
		<-block
	}
	scanner := &mockScanner{signals: []*domain.Signal{{Symbol: "BTCUSDT", Strength: 0.9, EntryPrice: 100}}}
	svc, sched := newTestService(t, users, &mockOutcomeRepo{}, scanner, run)
	ctx := context.Background()

	// No lifecycle yet.
	status, err := svc.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, status.HasOpenPosition)

	sched.Tick(ctx)
	waitFor(t, func() bool { return sched.HasActiveLifecycle(1) })

	status, err = svc.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, status.HasOpenPosition)

	close(block)
	waitFor(t, func() bool { return !sched.HasActiveLifecycle(1) })

	status, err = svc.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, status.HasOpenPosition)
}

func TestExportHistory(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{}}
	repo := &mockOutcomeRepo{history: []*domain.TradeOutcome{
		{UserID: 1, Symbol: "BTCUSDT", EntryPrice: 100, ExitPrice: 103, Quantity: 0.5, Result: domain.ResultTakeProfit, PNL: 1.5, ClosedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{UserID: 1, Symbol: "ETHUSDT", EntryPrice: 50, ExitPrice: 49.5, Quantity: 1, Result: domain.ResultStopLoss, PNL: -0.5, ClosedAt: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)},
	}}
	svc, _ := newTestService(t, users, repo, nil, nil)

	filename := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, svc.ExportHistory(context.Background(), 1, 10, filename))

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "closed_at,user_id,symbol,entry_price,exit_price,quantity,result,pnl", lines[0])
	assert.Contains(t, lines[1], "BTCUSDT")
	assert.Contains(t, lines[1], "take_profit")
	assert.Contains(t, lines[2], "stop_loss")
}

func TestGetStats_Passthrough(t *testing.T) {
	users := &mockUserStore{accounts: map[int64]*domain.UserAccount{}}
	repo := &mockOutcomeRepo{stats: &domain.UserStats{TradeCount: 4, Wins: 3, Losses: 1, WinRate: 75, TotalPNL: 12.5}}
	svc, _ := newTestService(t, users, repo, nil, nil)

	stats, err := svc.GetStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TradeCount)
	assert.Equal(t, 75.0, stats.WinRate)
}
