package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeTopup   TransactionType = "topup"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusSynced    TransactionStatus = "synced"
)

// Failure reasons recorded on terminal transitions.
const (
	FailureInsufficientFundsAtConfirm = "insufficient_funds_at_confirm"
	FailureOTPAttemptsExhausted       = "otp_attempts_exhausted"
	FailureExpired                    = "expired"
)

// Transaction is a single money movement against a user's wallet. The
// idempotency key is assigned by the client and is globally unique; it is
// the basis for offline-replay deduplication.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	IdempotencyKey uuid.UUID         `json:"idempotency_key"`
	UserID         uuid.UUID         `json:"user_id"`
	MerchantID     uuid.UUID         `json:"merchant_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	Type           TransactionType   `json:"type"`
	Description    string            `json:"description,omitempty"`
	Metadata       *string           `json:"metadata,omitempty"` // JSON string
	OTPChallengeID *string           `json:"-"`
	FailureReason  *string           `json:"failure_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ConfirmedAt    *time.Time        `json:"confirmed_at,omitempty"`
	SyncedAt       *time.Time        `json:"synced_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
// No transition is ever allowed out of a terminal state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusConfirmed ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled ||
		t.Status == TransactionStatusSynced
}

// IsPending returns true if the transaction still awaits confirmation.
func (t *Transaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}
