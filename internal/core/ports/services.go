package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiateRequest carries the input for starting a payment.
type InitiateRequest struct {
	UserID         uuid.UUID
	Phone          string
	IdempotencyKey uuid.UUID
	MerchantID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       *string
}

// InitiateResult is returned from a successful initiation.
type InitiateResult struct {
	Transaction          *domain.Transaction
	Merchant             *domain.MerchantSummary
	ChallengeID          string
	ConfirmationRequired bool
}

// ConfirmResult carries the settled transaction and the balance after
// the debit.
type ConfirmResult struct {
	Transaction *domain.Transaction
	NewBalance  decimal.Decimal
}

// SettlementService drives the payment state machine: initiate a
// pending transaction, then confirm (debit) or cancel it.
type SettlementService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Confirm(ctx context.Context, userID, transactionID uuid.UUID, code string) (*ConfirmResult, error)
	Cancel(ctx context.Context, userID, transactionID uuid.UUID, reason string) (*domain.Transaction, error)
	Get(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error)
}

// SyncItem is one offline transaction submitted for replay.
type SyncItem struct {
	IdempotencyKey uuid.UUID
	MerchantID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Description    string
	CreatedAt      time.Time
}

// SyncItemStatus classifies the outcome of replaying one item.
type SyncItemStatus string

const (
	SyncSynced    SyncItemStatus = "synced"
	SyncDuplicate SyncItemStatus = "duplicate"
	SyncFailed    SyncItemStatus = "failed"
)

// SyncItemResult reports the per-item outcome of a batch sync.
type SyncItemResult struct {
	IdempotencyKey uuid.UUID
	Status         SyncItemStatus
	TransactionID  *uuid.UUID
	Reason         string
}

// SyncSummary aggregates a batch sync outcome.
type SyncSummary struct {
	Total      int
	Synced     int
	Duplicates int
	Failed     int
	Results    []SyncItemResult
}

// SyncService replays batches of transactions recorded offline,
// deduplicating on idempotency key.
type SyncService interface {
	SyncBatch(ctx context.Context, userID uuid.UUID, items []SyncItem) (*SyncSummary, error)
}

// WalletSnapshot is the wallet state reported to clients, including the
// remaining headroom under the daily limit.
type WalletSnapshot struct {
	Wallet         *domain.Wallet
	SpentToday     decimal.Decimal
	RemainingToday decimal.Decimal
}

// WalletService exposes wallet state, history and the guard operations
// (lock, unlock, freeze, limit changes).
type WalletService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*WalletSnapshot, error)
	History(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, userID uuid.UUID) (*WalletStats, error)
	Lock(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration) (*domain.Wallet, error)
	// RequestUnlock issues an OTP challenge to the user's phone; the
	// code is required by Unlock. Emergency-frozen wallets refuse.
	RequestUnlock(ctx context.Context, userID uuid.UUID, phone string) (string, error)
	Unlock(ctx context.Context, userID uuid.UUID, challengeID, code string) (*domain.Wallet, error)
	EmergencyFreeze(ctx context.Context, userID uuid.UUID, reason string) (*domain.Wallet, error)
	// RequestLimitChange issues an OTP challenge guarding a daily limit
	// update; the code is required by SetDailyLimit.
	RequestLimitChange(ctx context.Context, userID uuid.UUID, phone string, newLimit decimal.Decimal) (string, error)
	SetDailyLimit(ctx context.Context, userID uuid.UUID, challengeID, code string, newLimit decimal.Decimal) (*domain.Wallet, error)
}

// AuthService handles phone-number login via OTP.
type AuthService interface {
	RequestLogin(ctx context.Context, phone string) (string, error)
	// VerifyLogin checks the OTP and returns a signed access token.
	VerifyLogin(ctx context.Context, phone, challengeID, code string) (string, error)
}

// TokenClaims are the authenticated identity extracted from a token.
type TokenClaims struct {
	UserID uuid.UUID
	Phone  string
}

// TokenService issues and validates access tokens.
type TokenService interface {
	Generate(userID uuid.UUID, phone string) (string, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// HashService provides one-way hashing for OTP codes at rest.
type HashService interface {
	Hash(value string) (string, error)
	Verify(value, hashed string) (bool, error)
}

// OTPVerifyResult reports an OTP verification attempt. Expired means
// the challenge no longer exists (TTL lapsed or already consumed).
type OTPVerifyResult struct {
	OK                bool
	Expired           bool
	AttemptsRemaining int
}

// OTPAuthority issues and verifies one-time-password challenges.
// Challenges are scoped to a subject and a purpose; Verify only
// accepts a challenge issued for the same purpose. Metadata is
// attached to the challenge and returned on success; the
// "destination" key addresses the notification.
type OTPAuthority interface {
	Issue(ctx context.Context, subject uuid.UUID, purpose string, metadata map[string]string) (string, error)
	Verify(ctx context.Context, subject uuid.UUID, purpose, challengeID, code string) (*OTPVerifyResult, map[string]string, error)
}

// NotificationChannel delivers OTP codes out of band.
type NotificationChannel interface {
	Send(ctx context.Context, destination, code, purpose string) error
}

// AuditService records security-relevant actions.
type AuditService interface {
	Record(ctx context.Context, userID *uuid.UUID, action domain.AuditAction, resourceType, resourceID, details string)
}

// IdempotencyCache is the fast-path duplicate check in front of the
// database unique constraint.
type IdempotencyCache interface {
	Get(ctx context.Context, key uuid.UUID) (uuid.UUID, bool, error)
	Set(ctx context.Context, key uuid.UUID, transactionID uuid.UUID, ttl time.Duration) error
}
