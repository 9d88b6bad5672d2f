package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
	"tradingx/internal/retry"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type placedOrder struct {
	Symbol   string
	Side     domain.OrderSide
	Quantity string
}

type mockGateway struct {
	ports.MarketGateway

	mu sync.Mutex

	prices    []interface{} // float64 or error, consumed in order; last repeats
	priceIdx  int
	buyErrs   int // failures before a buy succeeds
	sellErrs  int // failures before a sell succeeds
	fillPrice float64
	orders    []placedOrder
}

func (m *mockGateway) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prices) == 0 {
		return 0, errors.New("no price scripted")
	}
	step := m.prices[m.priceIdx]
	if m.priceIdx < len(m.prices)-1 {
		m.priceIdx++
	}
	if err, ok := step.(error); ok {
		return 0, err
	}
	return step.(float64), nil
}

func (m *mockGateway) PlaceMarketOrder(ctx context.Context, creds ports.Credentials, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if side == domain.Buy && m.buyErrs > 0 {
		m.buyErrs--
		return nil, ports.ErrOrderPlacementFailed
	}
	if side == domain.Sell && m.sellErrs > 0 {
		m.sellErrs--
		return nil, ports.ErrOrderPlacementFailed
	}
	m.orders = append(m.orders, placedOrder{Symbol: symbol, Side: side, Quantity: quantity})
	qty, _ := strconv.ParseFloat(quantity, 64)
	return &ports.OrderResponse{
		OrderID:       "1",
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		AvgPrice:      m.fillPrice,
		ExecutedQty:   qty,
		Timestamp:     time.Now(),
	}, nil
}

func (m *mockGateway) placed(side domain.OrderSide) []placedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []placedOrder
	for _, o := range m.orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

type mockUserStore struct {
	ports.UserStore

	mu       sync.Mutex
	account  *domain.UserAccount
	credsErr error
}

func (m *mockUserStore) FindByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return nil, nil
	}
	cp := *m.account
	return &cp, nil
}

func (m *mockUserStore) GetCredentials(ctx context.Context, id int64) (ports.Credentials, error) {
	if m.credsErr != nil {
		return ports.Credentials{}, m.credsErr
	}
	return ports.Credentials{APIKey: "k", APISecret: "s"}, nil
}

func (m *mockUserStore) disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.Status = domain.StatusInactive
}

type mockOutcomeRepo struct {
	ports.OutcomeRepository

	mu       sync.Mutex
	outcomes []*domain.TradeOutcome
}

func (m *mockOutcomeRepo) RecordOutcome(ctx context.Context, outcome *domain.TradeOutcome) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	return int64(len(m.outcomes)), nil
}

func (m *mockOutcomeRepo) recorded() []*domain.TradeOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.TradeOutcome(nil), m.outcomes...)
}

// Helpers

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts, Min: time.Microsecond, Max: 10 * time.Microsecond}
}

func testConfig() Config {
	return Config{
		QuoteAsset:         "USDT",
		PollInterval:       time.Millisecond,
		MinCapital:         5,
		QuantityPrecision:  6,
		EntryRetry:         fastPolicy(3),
		PollRetry:          fastPolicy(0),
		ExitRetry:          fastPolicy(0),
		ExitAlertThreshold: 10,
	}
}

func activeUser(capital float64) *domain.UserAccount {
	return &domain.UserAccount{ID: 7, Capital: capital, Status: domain.StatusActive, HasCredentials: true}
}

// Strength and bands for a 100.0 entry: TP fires at 103, SL at 99.2.
func testSignal() *domain.Signal {
	return &domain.Signal{
		Symbol:         "ETHUSDT",
		Strength:       0.9,
		EntryPrice:     100,
		TakeProfitLow:  103,
		TakeProfitHigh: 108,
		StopLossLow:    98.2,
		StopLossHigh:   99.2,
	}
}

func newTestEngine(t *testing.T, gw *mockGateway, users *mockUserStore, repo *mockOutcomeRepo) *Engine {
	t.Helper()
	e, err := New(testConfig(), gw, users, repo, &mockLogger{})
	require.NoError(t, err)
	return e
}

// Tests

func TestNew_RejectsBoundedExitRetry(t *testing.T) {
	cfg := testConfig()
	cfg.ExitRetry = fastPolicy(5)
	_, err := New(cfg, &mockGateway{}, &mockUserStore{}, &mockOutcomeRepo{}, &mockLogger{})
	assert.Error(t, err)
}

func TestRun_InsufficientCapitalAbortsBeforeAnyOrder(t *testing.T) {
	gw := &mockGateway{}
	users := &mockUserStore{account: activeUser(3)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, AbortInsufficientCapital, res.Reason)
	assert.Empty(t, gw.orders)
	assert.Empty(t, repo.recorded())
}

func TestRun_ZeroQuantityAborts(t *testing.T) {
	gw := &mockGateway{}
	users := &mockUserStore{account: activeUser(10)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	sig := testSignal()
	sig.EntryPrice = 1e9 // 10 / 1e9 truncates to zero at 6 decimal places
	sig.TakeProfitLow = 1.03e9
	sig.StopLossHigh = 0.992e9

	res := e.Run(context.Background(), 7, sig)

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, AbortZeroQuantity, res.Reason)
	assert.Empty(t, gw.orders)
}

func TestRun_MissingCredentialsAborts(t *testing.T) {
	gw := &mockGateway{}
	users := &mockUserStore{account: activeUser(100), credsErr: ports.ErrMissingCredentials}
	e := newTestEngine(t, gw, users, &mockOutcomeRepo{})

	res := e.Run(context.Background(), 7, testSignal())

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, AbortMissingCredentials, res.Reason)
	assert.Empty(t, gw.orders)
}

func TestRun_QuantityNeverExceedsCapital(t *testing.T) {
	gw := &mockGateway{prices: []interface{}{104.0}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(99.99)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())
	require.Equal(t, StateClosed, res.State)

	buys := gw.placed(domain.Buy)
	require.Len(t, buys, 1)
	qty, err := strconv.ParseFloat(buys[0].Quantity, 64)
	require.NoError(t, err)
	assert.Greater(t, qty, 0.0)
	assert.LessOrEqual(t, qty*100, 99.99)
}

func TestRun_TakeProfitClosesWithOutcome(t *testing.T) {
	gw := &mockGateway{prices: []interface{}{101.0, 102.5, 103.2}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.ResultTakeProfit, res.Outcome.Result)

	outcomes := repo.recorded()
	require.Len(t, outcomes, 1)
	assert.Equal(t, int64(7), outcomes[0].UserID)
	assert.Equal(t, "ETHUSDT", outcomes[0].Symbol)
	// Mock reports the same 100 fill for entry and exit: pnl is zero here,
	// but the pnl identity must hold.
	assert.InDelta(t, (outcomes[0].ExitPrice-outcomes[0].EntryPrice)*outcomes[0].Quantity, outcomes[0].PNL, 1e-9)

	require.Len(t, gw.placed(domain.Sell), 1)
}

func TestRun_PollErrorsThenStopLoss(t *testing.T) {
	// Scenario: three failed polls, then a price below the stop-loss trigger.
	pollErr := errors.New("feed timeout")
	gw := &mockGateway{prices: []interface{}{pollErr, pollErr, pollErr, 99.0}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	assert.Equal(t, domain.ResultStopLoss, res.Outcome.Result)
	require.Len(t, gw.placed(domain.Sell), 1)
	require.Len(t, repo.recorded(), 1)
}

func TestRun_EntryRetryBudgetExhaustedAbortsCleanly(t *testing.T) {
	gw := &mockGateway{buyErrs: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, AbortEntryFailed, res.Reason)
	assert.Empty(t, gw.placed(domain.Sell))
	assert.Empty(t, repo.recorded())
}

func TestRun_EntryRetriesWithinBudget(t *testing.T) {
	gw := &mockGateway{buyErrs: 2, prices: []interface{}{103.5}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	assert.Equal(t, domain.ResultTakeProfit, res.Outcome.Result)
}

func TestRun_ExitNeverGivesUp(t *testing.T) {
	gw := &mockGateway{prices: []interface{}{99.0}, sellErrs: 7, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	res := e.Run(context.Background(), 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	assert.Equal(t, domain.ResultStopLoss, res.Outcome.Result)
	require.Len(t, gw.placed(domain.Sell), 1)
	require.Len(t, repo.recorded(), 1)
}

func TestRun_CancellationRoutesThroughExit(t *testing.T) {
	// Prices never hit a trigger; cancel mid-monitoring. The position must
	// still be sold and an outcome recorded.
	gw := &mockGateway{prices: []interface{}{100.5}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := e.Run(ctx, 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	assert.Equal(t, domain.ResultCanceled, res.Outcome.Result)
	require.Len(t, gw.placed(domain.Sell), 1)
	require.Len(t, repo.recorded(), 1)
}

func TestRun_UserDisableRoutesThroughExit(t *testing.T) {
	gw := &mockGateway{prices: []interface{}{100.5}, fillPrice: 100}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	go func() {
		time.Sleep(20 * time.Millisecond)
		users.disable()
	}()

	res := e.Run(context.Background(), 7, testSignal())

	require.Equal(t, StateClosed, res.State)
	assert.Equal(t, domain.ResultCanceled, res.Outcome.Result)
	require.Len(t, gw.placed(domain.Sell), 1)
}

func TestRun_CanceledBeforeEntryPlacesNoOrders(t *testing.T) {
	gw := &mockGateway{}
	users := &mockUserStore{account: activeUser(200)}
	repo := &mockOutcomeRepo{}
	e := newTestEngine(t, gw, users, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Run(ctx, 7, testSignal())

	assert.Equal(t, StateAborted, res.State)
	assert.Empty(t, gw.orders)
	assert.Empty(t, repo.recorded())
}
