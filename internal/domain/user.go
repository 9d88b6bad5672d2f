package domain

// UserAccount is the read-mostly per-user configuration owned by the account
// store. The core reads it at the start of each lifecycle and only ever writes
// the status flag, via the store.
type UserAccount struct {
	ID             int64      // Unique user identifier
	Username       string     // Display name (informational only)
	Capital        float64    // Quote-currency amount allocated to the bot
	Status         UserStatus // active / inactive
	HasCredentials bool       // Whether exchange API keys are configured
}

// TradingEnabled reports whether the user has switched automated trading on.
func (u *UserAccount) TradingEnabled() bool {
	return u.Status == StatusActive
}

// IsReady reports whether the user can actually run a lifecycle: trading
// switched on, credentials present and some capital allocated. Re-evaluated
// every scheduler tick, never cached.
func (u *UserAccount) IsReady() bool {
	return u.TradingEnabled() && u.HasCredentials && u.Capital > 0
}
