package ports

import (
	"context"

	"tradingx/internal/domain"
)

// UserStore defines the interface to the external account store. The core
// reads accounts as configuration and only writes the status flag.
type UserStore interface {
	// CreateUser registers a user if absent and returns the stored account.
	CreateUser(ctx context.Context, id int64, username string) (*domain.UserAccount, error)
	// FindByID retrieves a user account. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.UserAccount, error)
	// FindActive retrieves all accounts with trading switched on.
	FindActive(ctx context.Context) ([]*domain.UserAccount, error)
	// SetStatus toggles a user's trading eligibility.
	SetStatus(ctx context.Context, id int64, status domain.UserStatus) error
	// SaveCredentials stores a user's exchange API keys (encrypted at rest).
	SaveCredentials(ctx context.Context, id int64, creds Credentials) error
	// GetCredentials resolves a user's exchange API keys for trading calls.
	GetCredentials(ctx context.Context, id int64) (Credentials, error)
	// SaveCapital stores the quote-currency amount the user allocates to the bot.
	SaveCapital(ctx context.Context, id int64, capital float64) error
}

// OutcomeRepository defines the interface to the append-only trade ledger.
type OutcomeRepository interface {
	// RecordOutcome appends a completed trade and returns its assigned ID.
	RecordOutcome(ctx context.Context, outcome *domain.TradeOutcome) (int64, error)
	// FindByUser retrieves a user's most recent outcomes, up to a limit.
	FindByUser(ctx context.Context, userID int64, limit int) ([]*domain.TradeOutcome, error)
	// StatsByUser aggregates a user's outcome records.
	StatsByUser(ctx context.Context, userID int64) (*domain.UserStats, error)
}

// SignalDetector evaluates a candle window and returns a breakout signal, or
// nil when no opportunity is present. Implementations must be pure.
type SignalDetector interface {
	// MinWindowSize returns the minimum number of candles Detect needs.
	MinWindowSize() int
	// Detect analyses the window (ordered oldest first) for the given symbol.
	Detect(symbol string, candles []*domain.Candle) *domain.Signal
}
