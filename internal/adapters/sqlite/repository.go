package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradingx/internal/crypto"
	"tradingx/internal/domain"
	"tradingx/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.UserStore and ports.OutcomeRepository
// interfaces using SQLite. API keys are encrypted before they touch disk.
type Repository struct {
	db        *sql.DB
	encryptor *crypto.Encryptor
	logger    ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath    string
	Encryptor *crypto.Encryptor
	Logger    ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	if cfg.Encryptor == nil {
		return nil, fmt.Errorf("encryptor is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, encryptor: cfg.Encryptor, logger: cfg.Logger}

	// Initialize schema (consider moving to a separate migration tool/step)
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		api_key TEXT DEFAULT NULL,
		api_secret TEXT DEFAULT NULL,
		capital REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'inactive',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		result TEXT NOT NULL,
		pnl REAL NOT NULL,
		closed_at TIMESTAMP NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_users_status ON users (status);
	CREATE INDEX IF NOT EXISTS idx_trade_history_user_closed_at ON trade_history (user_id, closed_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- UserStore Implementation ---

// CreateUser registers a user if absent and returns the stored account.
func (r *Repository) CreateUser(ctx context.Context, id int64, username string) (*domain.UserAccount, error) {
	const query = `
	INSERT INTO users (id, username) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET username = excluded.username`

	if _, err := r.db.ExecContext(ctx, query, id, username); err != nil {
		return nil, fmt.Errorf("failed to insert user %d: %w", id, err)
	}
	r.logger.Debug(ctx, "User registered", map[string]interface{}{"userID": id, "username": username})
	return r.FindByID(ctx, id)
}

// FindByID retrieves a user account. Returns nil, nil if not found.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	const query = `
	SELECT id, username, capital, status, api_key IS NOT NULL AND api_secret IS NOT NULL
	FROM users
	WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "User not found by ID", map[string]interface{}{"userID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query user by ID %d: %w", id, err)
	}
	return user, nil
}

// FindActive retrieves all accounts with trading switched on.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.UserAccount, error) {
	const query = `
	SELECT id, username, capital, status, api_key IS NOT NULL AND api_secret IS NOT NULL
	FROM users
	WHERE status = ?
	ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.UserAccount, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user during FindActive: %w", err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// SetStatus toggles a user's trading eligibility.
func (r *Repository) SetStatus(ctx context.Context, id int64, status domain.UserStatus) error {
	const query = `UPDATE users SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status for user %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for user %d status update: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d not found for status update: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "User status updated", map[string]interface{}{"userID": id, "status": status})
	return nil
}

// SaveCredentials stores a user's exchange API keys, encrypted at rest.
func (r *Repository) SaveCredentials(ctx context.Context, id int64, creds ports.Credentials) error {
	encKey, err := r.encryptor.Encrypt(creds.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt API key for user %d: %w", id, err)
	}
	encSecret, err := r.encryptor.Encrypt(creds.APISecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt API secret for user %d: %w", id, err)
	}

	const query = `UPDATE users SET api_key = ?, api_secret = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, encKey, encSecret, id)
	if err != nil {
		return fmt.Errorf("failed to save credentials for user %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for user %d credentials update: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d not found for credentials update: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "User credentials saved", map[string]interface{}{"userID": id})
	return nil
}

// GetCredentials resolves a user's exchange API keys for trading calls.
func (r *Repository) GetCredentials(ctx context.Context, id int64) (ports.Credentials, error) {
	const query = `SELECT api_key, api_secret FROM users WHERE id = ?`

	var encKey, encSecret sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&encKey, &encSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ports.Credentials{}, fmt.Errorf("user %d: %w", id, ports.ErrNotFound)
		}
		return ports.Credentials{}, fmt.Errorf("failed to query credentials for user %d: %w", id, err)
	}
	if !encKey.Valid || !encSecret.Valid {
		return ports.Credentials{}, fmt.Errorf("user %d: %w", id, ports.ErrMissingCredentials)
	}

	apiKey, err := r.encryptor.Decrypt(encKey.String)
	if err != nil {
		return ports.Credentials{}, fmt.Errorf("failed to decrypt API key for user %d: %w", id, err)
	}
	apiSecret, err := r.encryptor.Decrypt(encSecret.String)
	if err != nil {
		return ports.Credentials{}, fmt.Errorf("failed to decrypt API secret for user %d: %w", id, err)
	}
	return ports.Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}

// SaveCapital stores the quote-currency amount the user allocates to the bot.
func (r *Repository) SaveCapital(ctx context.Context, id int64, capital float64) error {
	const query = `UPDATE users SET capital = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, capital, id)
	if err != nil {
		return fmt.Errorf("failed to save capital for user %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for user %d capital update: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d not found for capital update: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "User capital saved", map[string]interface{}{"userID": id, "capital": capital})
	return nil
}

// --- OutcomeRepository Implementation ---

// RecordOutcome appends a completed trade and returns its assigned ID.
func (r *Repository) RecordOutcome(ctx context.Context, outcome *domain.TradeOutcome) (int64, error) {
	const query = `
	INSERT INTO trade_history (user_id, symbol, entry_price, exit_price, quantity, result, pnl, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		outcome.UserID, outcome.Symbol, outcome.EntryPrice, outcome.ExitPrice,
		outcome.Quantity, outcome.Result, outcome.PNL, outcome.ClosedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade outcome for user %d symbol %s: %w", outcome.UserID, outcome.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade outcome %s: %w", outcome.Symbol, err)
	}
	outcome.ID = id // Update the domain object with the ID
	r.logger.Debug(ctx, "Trade outcome recorded", map[string]interface{}{
		"outcomeID": id, "userID": outcome.UserID, "symbol": outcome.Symbol, "result": outcome.Result, "pnl": outcome.PNL})
	return id, nil
}

// FindByUser retrieves a user's most recent outcomes, up to a limit.
func (r *Repository) FindByUser(ctx context.Context, userID int64, limit int) ([]*domain.TradeOutcome, error) {
	const query = `
	SELECT id, user_id, symbol, entry_price, exit_price, quantity, result, pnl, closed_at
	FROM trade_history
	WHERE user_id = ? ORDER BY closed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for user %d: %w", userID, err)
	}
	defer rows.Close()

	outcomes := make([]*domain.TradeOutcome, 0)
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade outcome during FindByUser: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return outcomes, nil
}

// StatsByUser aggregates a user's outcome records.
func (r *Repository) StatsByUser(ctx context.Context, userID int64) (*domain.UserStats, error) {
	const query = `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(pnl), 0)
	FROM trade_history
	WHERE user_id = ?`

	stats := &domain.UserStats{}
	err := r.db.QueryRowContext(ctx, query, domain.ResultTakeProfit, domain.ResultStopLoss, userID).
		Scan(&stats.TradeCount, &stats.Wins, &stats.Losses, &stats.TotalPNL)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats for user %d: %w", userID, err)
	}
	if stats.TradeCount > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TradeCount) * 100
	}
	return stats, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanUser scans a row into a domain.UserAccount struct.
func scanUser(s scanner) (*domain.UserAccount, error) {
	u := &domain.UserAccount{}
	var status string
	err := s.Scan(&u.ID, &u.Username, &u.Capital, &status, &u.HasCredentials)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

// scanOutcome scans a row into a domain.TradeOutcome struct.
func scanOutcome(s scanner) (*domain.TradeOutcome, error) {
	o := &domain.TradeOutcome{}
	var result string
	err := s.Scan(
		&o.ID, &o.UserID, &o.Symbol, &o.EntryPrice, &o.ExitPrice,
		&o.Quantity, &result, &o.PNL, &o.ClosedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Result = domain.TradeResult(result)
	return o, nil
}
