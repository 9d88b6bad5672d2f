// Package engine runs the per-user position lifecycle: size the order, enter,
// monitor price until an exit trigger fires, exit, and report the outcome.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
	"tradingx/internal/retry"
)

// State identifies the lifecycle phase.
type State string

const (
	StateSizing     State = "SIZING"
	StateEntering   State = "ENTERING"
	StateMonitoring State = "MONITORING"
	StateExiting    State = "EXITING"
	StateClosed     State = "CLOSED"
	StateAborted    State = "ABORTED"
)

// AbortReason is the terse, user-facing reason a lifecycle stopped before any
// order was placed (or before a position existed). Raw transport errors are
// never surfaced here.
type AbortReason string

const (
	AbortInsufficientCapital AbortReason = "insufficient capital"
	AbortZeroQuantity        AbortReason = "order quantity resolves to zero"
	AbortMissingCredentials  AbortReason = "exchange credentials not configured"
	AbortTradingDisabled     AbortReason = "trading disabled"
	AbortEntryFailed         AbortReason = "could not open position"
	AbortCanceled            AbortReason = "canceled before entry"
)

// Result is the typed terminal outcome of one lifecycle invocation. Aborts are
// results, not errors, so the scheduler releases slots uniformly.
type Result struct {
	State   State                // StateClosed or StateAborted
	Reason  AbortReason          // Set when aborted
	Outcome *domain.TradeOutcome // Set when closed
}

// Config holds lifecycle parameters.
type Config struct {
	QuoteAsset         string        // Asset user capital is denominated in
	PollInterval       time.Duration // Price poll period while monitoring
	MinCapital         float64       // Capital floor below which sizing aborts
	QuantityPrecision  int32         // Lot precision for order quantities
	EntryRetry         retry.Policy  // Bounded budget for the entry order
	PollRetry          retry.Policy  // Per-poll price fetch retries
	ExitRetry          retry.Policy  // Unbounded (MaxAttempts 0) for the exit order
	ExitAlertThreshold int           // Exit attempts before alert-level logging
}

// Engine executes position lifecycles. One Run call owns one position; no
// position is ever shared across invocations.
type Engine struct {
	cfg      Config
	gateway  ports.MarketGateway
	users    ports.UserStore
	outcomes ports.OutcomeRepository
	logger   ports.Logger
}

// New creates an Engine instance.
func New(cfg Config, gateway ports.MarketGateway, users ports.UserStore, outcomes ports.OutcomeRepository, logger ports.Logger) (*Engine, error) {
	if gateway == nil || users == nil || outcomes == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("PollInterval must be positive")
	}
	if cfg.MinCapital < 0 {
		return nil, fmt.Errorf("MinCapital cannot be negative")
	}
	if cfg.ExitRetry.MaxAttempts != 0 {
		return nil, fmt.Errorf("ExitRetry must be unbounded: a filled position may never be abandoned")
	}
	if cfg.PollRetry.MaxAttempts != 0 {
		return nil, fmt.Errorf("PollRetry must be unbounded: price feed failure is transient, not fatal")
	}
	return &Engine{cfg: cfg, gateway: gateway, users: users, outcomes: outcomes, logger: logger}, nil
}

// Run executes one full lifecycle for the user against the given candidate.
// Cancellation via ctx is honored immediately before entry; once a position is
// open it only routes the lifecycle into the exit step, never abandonment.
func (e *Engine) Run(ctx context.Context, userID int64, sig *domain.Signal) *Result {
	runID := uuid.NewString()
	fields := map[string]interface{}{"runID": runID, "userID": userID, "symbol": sig.Symbol}
	e.logger.Info(ctx, "Lifecycle starting", fields)

	// --- SIZING ---
	account, err := e.users.FindByID(ctx, userID)
	if err != nil || account == nil {
		e.logger.Error(ctx, err, "Lifecycle aborted: could not load user account", fields)
		return &Result{State: StateAborted, Reason: AbortTradingDisabled}
	}
	if !account.TradingEnabled() {
		return &Result{State: StateAborted, Reason: AbortTradingDisabled}
	}
	creds, err := e.users.GetCredentials(ctx, userID)
	if err != nil {
		e.logger.Warn(ctx, "Lifecycle aborted: no credentials", fields)
		return &Result{State: StateAborted, Reason: AbortMissingCredentials}
	}

	if account.Capital < e.cfg.MinCapital {
		e.logger.Info(ctx, "Lifecycle aborted: capital below floor", merge(fields, map[string]interface{}{
			"capital": account.Capital, "floor": e.cfg.MinCapital,
		}))
		return &Result{State: StateAborted, Reason: AbortInsufficientCapital}
	}

	quantity := decimal.NewFromFloat(account.Capital).
		Div(decimal.NewFromFloat(sig.EntryPrice)).
		RoundDown(e.cfg.QuantityPrecision)
	if !quantity.IsPositive() {
		e.logger.Info(ctx, "Lifecycle aborted: quantity truncates to zero", merge(fields, map[string]interface{}{
			"capital": account.Capital, "entryPrice": sig.EntryPrice,
		}))
		return &Result{State: StateAborted, Reason: AbortZeroQuantity}
	}
	quantityStr := quantity.String()

	if ctx.Err() != nil {
		return &Result{State: StateAborted, Reason: AbortCanceled}
	}

	// --- ENTERING ---
	entryOrder, err := e.placeEntry(ctx, creds, sig.Symbol, quantityStr, runID)
	if err != nil {
		// Bounded retry budget exhausted: abort cleanly, no position exists.
		e.logger.Error(ctx, err, "Lifecycle aborted: entry order failed", fields)
		return &Result{State: StateAborted, Reason: AbortEntryFailed}
	}

	entryPrice := entryOrder.AvgPrice
	if entryPrice == 0 {
		e.logger.Warn(ctx, "Entry fill price unreported, using signal entry price", fields)
		entryPrice = sig.EntryPrice
	}
	filledQty := entryOrder.ExecutedQty
	if filledQty == 0 {
		filledQty = quantity.InexactFloat64()
	}

	position := &domain.Position{
		UserID:            userID,
		Symbol:            sig.Symbol,
		EntryPrice:        entryPrice,
		Quantity:          filledQty,
		TakeProfitTrigger: sig.TakeProfitTrigger(),
		StopLossTrigger:   sig.StopLossTrigger(),
		OpenedAt:          time.Now().UTC(),
	}
	e.logger.Info(ctx, "Position opened", merge(fields, map[string]interface{}{
		"entryPrice": position.EntryPrice,
		"quantity":   position.Quantity,
		"takeProfit": position.TakeProfitTrigger,
		"stopLoss":   position.StopLossTrigger,
	}))

	// --- MONITORING ---
	result, exitHint := e.monitor(ctx, position, fields)

	// --- EXITING ---
	// Shutdown or user cancellation must not strand a filled position, so the
	// exit step runs on a detached context. The sell covers the full recorded
	// position quantity, which may differ from the requested size.
	exitQty := decimal.NewFromFloat(position.Quantity).RoundDown(e.cfg.QuantityPrecision).String()
	exitCtx := context.WithoutCancel(ctx)
	exitOrder := e.placeExit(exitCtx, creds, position, exitQty, runID, fields)

	exitPrice := exitOrder.AvgPrice
	if exitPrice == 0 {
		exitPrice = exitHint
	}

	// --- CLOSED ---
	outcome := &domain.TradeOutcome{
		UserID:     userID,
		Symbol:     position.Symbol,
		EntryPrice: position.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   position.Quantity,
		Result:     result,
		PNL:        (exitPrice - position.EntryPrice) * position.Quantity,
		ClosedAt:   time.Now().UTC(),
	}
	e.record(exitCtx, outcome, fields)

	e.logger.Info(ctx, "Lifecycle closed", merge(fields, map[string]interface{}{
		"result": outcome.Result, "pnl": outcome.PNL, "exitPrice": outcome.ExitPrice,
	}))
	return &Result{State: StateClosed, Outcome: outcome}
}

// placeEntry places the market buy under the bounded entry retry budget.
func (e *Engine) placeEntry(ctx context.Context, creds ports.Credentials, symbol, quantity, runID string) (*ports.OrderResponse, error) {
	var order *ports.OrderResponse
	err := e.cfg.EntryRetry.DoNotify(ctx, func(ctx context.Context) error {
		resp, err := e.gateway.PlaceMarketOrder(ctx, creds, symbol, domain.Buy, quantity, "entry-"+runID)
		if err != nil {
			return err
		}
		if !resp.Filled() {
			return fmt.Errorf("no fill confirmation: %w", ports.ErrOrderPlacementFailed)
		}
		order = resp
		return nil
	}, func(attempt int, err error, next time.Duration) {
		e.logger.Warn(ctx, "Entry order attempt failed, retrying", map[string]interface{}{
			"runID": runID, "symbol": symbol, "attempt": attempt, "nextIn": next.String(), "error": err.Error(),
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// monitor polls the last price until an exit condition fires or the lifecycle
// is canceled. It returns the exit result tag and the last price observed,
// used as a fill-price fallback.
func (e *Engine) monitor(ctx context.Context, pos *domain.Position, fields map[string]interface{}) (domain.TradeResult, float64) {
	lastPrice := pos.EntryPrice
	for {
		// Cancellation and user enablement are advisory here: either routes
		// the lifecycle into the exit step, never abandonment.
		if ctx.Err() != nil {
			e.logger.Warn(ctx, "Monitoring canceled, exiting position at market", fields)
			return domain.ResultCanceled, lastPrice
		}
		if account, err := e.users.FindByID(ctx, pos.UserID); err == nil && account != nil && !account.TradingEnabled() {
			e.logger.Info(ctx, "User disabled trading, exiting position at market", fields)
			return domain.ResultCanceled, lastPrice
		}

		price, err := e.pollPrice(ctx, pos.Symbol)
		if err != nil {
			// Only context cancellation escapes pollPrice.
			e.logger.Warn(ctx, "Monitoring canceled during price poll, exiting position at market", fields)
			return domain.ResultCanceled, lastPrice
		}
		lastPrice = price

		// Stop-loss is checked before take-profit: on a gap move that crosses
		// both triggers in one poll, capital preservation wins.
		if price <= pos.StopLossTrigger {
			return domain.ResultStopLoss, price
		}
		if price >= pos.TakeProfitTrigger {
			return domain.ResultTakeProfit, price
		}

		select {
		case <-ctx.Done():
			e.logger.Warn(ctx, "Monitoring canceled, exiting position at market", fields)
			return domain.ResultCanceled, lastPrice
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// pollPrice fetches the last price, retrying transient failures with backoff.
// A filled position must never sit unmonitored because of a flaky feed.
func (e *Engine) pollPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := e.cfg.PollRetry.DoNotify(ctx, func(ctx context.Context) error {
		p, err := e.gateway.GetLastPrice(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	}, func(attempt int, err error, next time.Duration) {
		e.logger.Debug(ctx, "Price poll failed, backing off", map[string]interface{}{
			"symbol": symbol, "attempt": attempt, "nextIn": next.String(), "error": err.Error(),
		})
	})
	return price, err
}

// placeExit places the market sell for the full recorded quantity. It retries
// indefinitely: once the exit has been decided the lifecycle never returns to
// monitoring, and it never gives up on a filled position. Past the alert
// threshold every further failure is logged at error level for operators.
func (e *Engine) placeExit(ctx context.Context, creds ports.Credentials, pos *domain.Position, quantity, runID string, fields map[string]interface{}) *ports.OrderResponse {
	var order *ports.OrderResponse
	// The error is unreachable with an unbounded policy on a detached context;
	// handled anyway so a refactor cannot silently drop it.
	err := e.cfg.ExitRetry.DoNotify(ctx, func(ctx context.Context) error {
		resp, err := e.gateway.PlaceMarketOrder(ctx, creds, pos.Symbol, domain.Sell, quantity, "exit-"+runID)
		if err != nil {
			return err
		}
		if !resp.Filled() {
			return fmt.Errorf("no fill confirmation: %w", ports.ErrOrderPlacementFailed)
		}
		order = resp
		return nil
	}, func(attempt int, err error, next time.Duration) {
		f := merge(fields, map[string]interface{}{"attempt": attempt, "nextIn": next.String(), "error": err.Error()})
		if attempt >= e.cfg.ExitAlertThreshold {
			e.logger.Error(ctx, err, "ALERT: exit order still failing, position remains open", f)
		} else {
			e.logger.Warn(ctx, "Exit order attempt failed, retrying", f)
		}
	})
	if err != nil {
		e.logger.Error(ctx, err, "Exit retries stopped without a fill", fields)
		return &ports.OrderResponse{}
	}
	return order
}

// record appends the outcome, retrying briefly; a full ledger outage is logged
// rather than failing the lifecycle, since the position is already closed.
func (e *Engine) record(ctx context.Context, outcome *domain.TradeOutcome, fields map[string]interface{}) {
	err := e.cfg.EntryRetry.Do(ctx, func(ctx context.Context) error {
		_, err := e.outcomes.RecordOutcome(ctx, outcome)
		return err
	})
	if err != nil {
		e.logger.Error(ctx, err, "Failed to record trade outcome", merge(fields, map[string]interface{}{
			"result": outcome.Result, "pnl": outcome.PNL,
		}))
	}
}

func merge(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
