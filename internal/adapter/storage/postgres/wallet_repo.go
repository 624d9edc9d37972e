package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// walletColumns selects balances as text so they can be parsed into
// decimals without binary NUMERIC decoding.
const walletColumns = `user_id, balance::text, daily_limit::text, currency, is_locked, lock_reason,
		locked_until, emergency, last_transaction_at, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetOrCreate fetches the user's wallet, inserting one with a zero
// balance on first access. ON CONFLICT DO NOTHING keeps concurrent
// first accesses from creating two wallets.
func (r *WalletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string, dailyLimit decimal.Decimal) (*domain.Wallet, error) {
	insert := `INSERT INTO wallets (user_id, balance, daily_limit, currency, created_at, updated_at)
		VALUES ($1, 0, $2::numeric, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, insert, userID, dailyLimit.StringFixed(2), currency); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	w, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("wallet missing after insert: %s", userID)
	}
	return w, nil
}

// GetByUserID fetches a wallet by user ID (without locking).
// Returns (nil, nil) when no wallet exists.
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE user_id = $1`, walletColumns)
	return scanWallet(r.pool.QueryRow(ctx, query, userID))
}

// GetByUserIDForUpdate fetches a wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE user_id = $1 FOR UPDATE`, walletColumns)
	return scanWallet(tx.QueryRow(ctx, query, userID))
}

// ApplyDelta adds delta to the wallet balance inside a transaction.
// The WHERE clause refuses updates that would drive the balance
// negative; in that case applied is false and no row changes.
func (r *WalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	query := `UPDATE wallets
		SET balance = balance + $2::numeric, last_transaction_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND balance + $2::numeric >= 0
		RETURNING balance::text`

	var balanceStr string
	err := tx.QueryRow(ctx, query, userID, delta.StringFixed(2)).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Wallet exists (caller holds its row lock); the balance
			// guard rejected the debit.
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("apply balance delta: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse balance %q: %w", balanceStr, err)
	}
	return balance, true, nil
}

// SetLocked updates the wallet's lock state.
func (r *WalletRepo) SetLocked(ctx context.Context, userID uuid.UUID, locked bool, reason *string, until *time.Time, emergency bool) error {
	query := `UPDATE wallets
		SET is_locked = $2, lock_reason = $3, locked_until = $4, emergency = $5, updated_at = NOW()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, locked, reason, until, emergency)
	if err != nil {
		return fmt.Errorf("update wallet lock state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", userID)
	}
	return nil
}

// UpdateDailyLimit sets a new daily spending limit.
func (r *WalletRepo) UpdateDailyLimit(ctx context.Context, userID uuid.UUID, limit decimal.Decimal) error {
	query := `UPDATE wallets SET daily_limit = $2::numeric, updated_at = NOW() WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, limit.StringFixed(2))
	if err != nil {
		return fmt.Errorf("update daily limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", userID)
	}
	return nil
}

// scanWallet scans a single wallet row, parsing numeric columns.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var balanceStr, limitStr string
	err := row.Scan(
		&w.UserID, &balanceStr, &limitStr, &w.Currency, &w.IsLocked, &w.LockReason,
		&w.LockedUntil, &w.Emergency, &w.LastTransactionAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	if w.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balanceStr, err)
	}
	if w.DailyLimit, err = decimal.NewFromString(limitStr); err != nil {
		return nil, fmt.Errorf("parse daily limit %q: %w", limitStr, err)
	}
	return w, nil
}
