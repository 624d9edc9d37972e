package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside a transaction block; a debit and
// its accompanying status update must share one transaction.
type WalletRepository interface {
	// GetOrCreate returns the user's wallet, creating it with a zero
	// balance and the given defaults on first access. Safe under
	// concurrent first access: exactly one wallet is ever created.
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string, dailyLimit decimal.Decimal) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	// ApplyDelta atomically adds delta (negative for debit) to the
	// wallet's balance and stamps last_transaction_at. Returns the new
	// balance and whether the update applied; applied is false when the
	// resulting balance would be negative.
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, bool, error)
	SetLocked(ctx context.Context, userID uuid.UUID, locked bool, reason *string, until *time.Time, emergency bool) error
	UpdateDailyLimit(ctx context.Context, userID uuid.UUID, limit decimal.Decimal) error
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	// Create inserts a transaction. Returns created=false when the
	// idempotency key is already taken.
	Create(ctx context.Context, t *domain.Transaction) (bool, error)
	// CreateInTx is Create inside an open transaction block (offline
	// sync path). On a duplicate key the surrounding transaction is
	// poisoned and must be rolled back by the caller.
	CreateInTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Transaction, error)
	SetOTPChallenge(ctx context.Context, id uuid.UUID, challengeID string) error
	// MarkConfirmed flips pending -> confirmed inside the settlement
	// transaction. Returns false if the row was no longer pending.
	MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error)
	// MarkFailed flips pending -> failed with a reason. Returns false if
	// the row was no longer pending.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// Cancel flips pending -> cancelled. Returns false if the row was no
	// longer pending.
	Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// SumConfirmedPayments returns the total of confirmed and synced
	// payment amounts for the user since the given instant.
	SumConfirmedPayments(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	// SumConfirmedPaymentsInTx is the same query issued inside an open
	// transaction block so the limit check shares the debit's snapshot.
	SumConfirmedPaymentsInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, userID uuid.UUID, dayStart, weekStart, monthStart time.Time) (*WalletStats, error)
	// ExpirePending cancels pending transactions created before the
	// cutoff, recording the expiry reason. Returns how many were swept.
	ExpirePending(ctx context.Context, olderThan time.Time) (int64, error)
}

// TransactionListParams holds filters and pagination for history queries.
type TransactionListParams struct {
	UserID   uuid.UUID
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// WalletStats holds aggregated per-user transaction statistics.
type WalletStats struct {
	TotalTransactions int64
	Pending           int64
	Confirmed         int64
	Failed            int64
	Cancelled         int64
	Synced            int64
	SpentToday        decimal.Decimal
	SpentThisWeek     decimal.Decimal
	SpentThisMonth    decimal.Decimal
}

// MerchantRepository defines persistence operations for the merchant
// directory.
type MerchantRepository interface {
	Create(ctx context.Context, m *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
