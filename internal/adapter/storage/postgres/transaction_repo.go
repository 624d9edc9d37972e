package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, idempotency_key, user_id, merchant_id, amount::text, currency, status, type,
		description, metadata, otp_challenge_id, failure_reason, created_at, confirmed_at, synced_at, updated_at`

// uniqueViolation is the PostgreSQL error code for a unique constraint
// breach; on transactions it means the idempotency key is taken.
const uniqueViolation = "23505"

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const insertTransaction = `INSERT INTO transactions (id, idempotency_key, user_id, merchant_id, amount, currency,
		status, type, description, metadata, otp_challenge_id, failure_reason, created_at, confirmed_at, synced_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// Create inserts a transaction. Returns created=false when the
// idempotency key already exists.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) (bool, error) {
	_, err := r.pool.Exec(ctx, insertTransaction, insertArgs(t)...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	return true, nil
}

// CreateInTx inserts a transaction inside an open database transaction.
// A duplicate key poisons the surrounding transaction; the caller must
// roll back.
func (r *TransactionRepo) CreateInTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) (bool, error) {
	_, err := tx.Exec(ctx, insertTransaction, insertArgs(t)...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	return true, nil
}

func insertArgs(t *domain.Transaction) []any {
	return []any{
		t.ID, t.IdempotencyKey, t.UserID, t.MerchantID, t.Amount.String(), t.Currency,
		t.Status, t.Type, t.Description, t.Metadata, t.OTPChallengeID, t.FailureReason,
		t.CreatedAt, t.ConfirmedAt, t.SyncedAt, t.UpdatedAt,
	}
}

// GetByID fetches a transaction by UUID. Returns (nil, nil) when absent.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a transaction by its idempotency key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE idempotency_key = $1`, transactionColumns)
	return scanTransaction(r.pool.QueryRow(ctx, query, key))
}

// SetOTPChallenge attaches the issued OTP challenge ID to a pending
// transaction.
func (r *TransactionRepo) SetOTPChallenge(ctx context.Context, id uuid.UUID, challengeID string) error {
	query := `UPDATE transactions SET otp_challenge_id = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, challengeID)
	if err != nil {
		return fmt.Errorf("set otp challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// MarkConfirmed flips a pending transaction to confirmed inside the
// settlement transaction. Returns false if the row was not pending.
func (r *TransactionRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE transactions SET status = 'confirmed', confirmed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := tx.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark transaction confirmed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed flips a pending transaction to failed with a reason.
// Returns false if the row was not pending.
func (r *TransactionRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `UPDATE transactions SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark transaction failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel flips a pending transaction to cancelled. Returns false if
// the row was not pending.
func (r *TransactionRepo) Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `UPDATE transactions SET status = 'cancelled', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("cancel transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const sumConfirmedPayments = `SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE user_id = $1 AND type = 'payment' AND status IN ('confirmed', 'synced') AND created_at >= $2`

// SumConfirmedPayments totals confirmed and synced payment amounts for
// the user since the given instant.
func (r *TransactionRepo) SumConfirmedPayments(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return scanSum(r.pool.QueryRow(ctx, sumConfirmedPayments, userID, since))
}

// SumConfirmedPaymentsInTx is SumConfirmedPayments issued inside an
// open transaction so the limit check shares the debit's snapshot.
func (r *TransactionRepo) SumConfirmedPaymentsInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return scanSum(tx.QueryRow(ctx, sumConfirmedPayments, userID, since))
}

func scanSum(row pgx.Row) (decimal.Decimal, error) {
	var sumStr string
	if err := row.Scan(&sumStr); err != nil {
		return decimal.Zero, fmt.Errorf("sum confirmed payments: %w", err)
	}
	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse payment sum %q: %w", sumStr, err)
	}
	return sum, nil
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats retrieves aggregated transaction statistics for a user.
func (r *TransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, dayStart, weekStart, monthStart time.Time) (*ports.WalletStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COUNT(*) FILTER (WHERE status = 'confirmed') AS confirmed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
		COUNT(*) FILTER (WHERE status = 'synced') AS synced,
		COALESCE(SUM(amount) FILTER (WHERE type = 'payment' AND status IN ('confirmed', 'synced') AND created_at >= $2), 0)::text AS spent_today,
		COALESCE(SUM(amount) FILTER (WHERE type = 'payment' AND status IN ('confirmed', 'synced') AND created_at >= $3), 0)::text AS spent_week,
		COALESCE(SUM(amount) FILTER (WHERE type = 'payment' AND status IN ('confirmed', 'synced') AND created_at >= $4), 0)::text AS spent_month
		FROM transactions WHERE user_id = $1`

	stats := &ports.WalletStats{}
	var todayStr, weekStr, monthStr string
	err := r.pool.QueryRow(ctx, query, userID, dayStart, weekStart, monthStart).Scan(
		&stats.TotalTransactions, &stats.Pending, &stats.Confirmed, &stats.Failed,
		&stats.Cancelled, &stats.Synced, &todayStr, &weekStr, &monthStr,
	)
	if err != nil {
		return nil, fmt.Errorf("get wallet stats: %w", err)
	}

	if stats.SpentToday, err = decimal.NewFromString(todayStr); err != nil {
		return nil, fmt.Errorf("parse spent today %q: %w", todayStr, err)
	}
	if stats.SpentThisWeek, err = decimal.NewFromString(weekStr); err != nil {
		return nil, fmt.Errorf("parse spent week %q: %w", weekStr, err)
	}
	if stats.SpentThisMonth, err = decimal.NewFromString(monthStr); err != nil {
		return nil, fmt.Errorf("parse spent month %q: %w", monthStr, err)
	}
	return stats, nil
}

// ExpirePending cancels pending transactions created before the cutoff.
func (r *TransactionRepo) ExpirePending(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE transactions SET status = 'cancelled', failure_reason = $2, updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1`

	tag, err := r.pool.Exec(ctx, query, olderThan, domain.FailureExpired)
	if err != nil {
		return 0, fmt.Errorf("expire pending transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanTransaction scans a single row, mapping pgx.ErrNoRows to (nil, nil).
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amountStr string
	err := row.Scan(
		&t.ID, &t.IdempotencyKey, &t.UserID, &t.MerchantID, &amountStr, &t.Currency,
		&t.Status, &t.Type, &t.Description, &t.Metadata, &t.OTPChallengeID,
		&t.FailureReason, &t.CreatedAt, &t.ConfirmedAt, &t.SyncedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amountStr, err)
	}
	return t, nil
}
