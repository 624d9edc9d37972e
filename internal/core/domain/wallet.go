package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds a user's spendable balance. One wallet per user, created
// lazily on first access and never deleted.
type Wallet struct {
	UserID            uuid.UUID       `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	DailyLimit        decimal.Decimal `json:"daily_limit"`
	IsLocked          bool            `json:"is_locked"`
	LockReason        *string         `json:"lock_reason,omitempty"`
	LockedUntil       *time.Time      `json:"locked_until,omitempty"`
	Emergency         bool            `json:"emergency"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLockedAt reports whether the wallet blocks debits at the given instant.
// A timed lock expires once locked_until has passed; an emergency freeze
// never expires on its own.
func (w *Wallet) IsLockedAt(now time.Time) bool {
	if !w.IsLocked {
		return false
	}
	if w.Emergency {
		return true
	}
	if w.LockedUntil != nil && now.After(*w.LockedUntil) {
		return false
	}
	return true
}
