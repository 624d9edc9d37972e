package service

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Per-item failure reasons reported in sync summaries.
const (
	syncReasonInvalidAmount     = "invalid_amount"
	syncReasonMerchantNotFound  = "merchant_not_found"
	syncReasonMerchantInactive  = "merchant_inactive"
	syncReasonWalletLocked      = "wallet_locked"
	syncReasonInsufficientFunds = "insufficient_funds"
	syncReasonDailyLimit        = "daily_limit_exceeded"
)

// SyncServiceImpl implements ports.SyncService: replay of transactions
// recorded while the client was offline. Each item settles
// independently; the batch never fails as a whole.
type SyncServiceImpl struct {
	txRepo       ports.TransactionRepository
	walletRepo   ports.WalletRepository
	merchantRepo ports.MerchantRepository
	idempCache   ports.IdempotencyCache
	transactor   ports.DBTransactor
	audit        ports.AuditService
	defaults     WalletDefaults
	log          zerolog.Logger
}

// NewSyncService creates a new SyncServiceImpl.
func NewSyncService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	merchantRepo ports.MerchantRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	defaults WalletDefaults,
	log zerolog.Logger,
) *SyncServiceImpl {
	return &SyncServiceImpl{
		txRepo:       txRepo,
		walletRepo:   walletRepo,
		merchantRepo: merchantRepo,
		idempCache:   idempCache,
		transactor:   transactor,
		audit:        audit,
		defaults:     defaults,
		log:          log,
	}
}

// SyncBatch replays offline transactions in submission order,
// deduplicating on idempotency key.
func (s *SyncServiceImpl) SyncBatch(ctx context.Context, userID uuid.UUID, items []ports.SyncItem) (*ports.SyncSummary, error) {
	if len(items) == 0 {
		return nil, apperror.Validation("sync batch is empty")
	}

	summary := &ports.SyncSummary{
		Total:   len(items),
		Results: make([]ports.SyncItemResult, 0, len(items)),
	}

	for _, item := range items {
		result := s.syncOne(ctx, userID, item)
		switch result.Status {
		case ports.SyncSynced:
			summary.Synced++
		case ports.SyncDuplicate:
			summary.Duplicates++
		case ports.SyncFailed:
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}

	s.audit.Record(ctx, &userID, domain.AuditActionSync, "sync_batch", "",
		fmt.Sprintf("total=%d synced=%d duplicates=%d failed=%d",
			summary.Total, summary.Synced, summary.Duplicates, summary.Failed))

	s.log.Info().
		Str("user_id", userID.String()).
		Int("total", summary.Total).
		Int("synced", summary.Synced).
		Int("duplicates", summary.Duplicates).
		Int("failed", summary.Failed).
		Msg("sync batch processed")

	return summary, nil
}

// syncOne settles a single offline item. Duplicates return the
// original transaction's ID; failures carry a machine-readable reason.
func (s *SyncServiceImpl) syncOne(ctx context.Context, userID uuid.UUID, item ports.SyncItem) ports.SyncItemResult {
	result := ports.SyncItemResult{IdempotencyKey: item.IdempotencyKey}

	// Layer 1: Redis idempotency check
	if txID, found, err := s.idempCache.Get(ctx, item.IdempotencyKey); err != nil {
		s.log.Warn().Err(err).Str("key", item.IdempotencyKey.String()).Msg("redis idempotency check failed, falling through to DB")
	} else if found {
		result.Status = ports.SyncDuplicate
		result.TransactionID = &txID
		return result
	}

	// Layer 2: DB idempotency check
	if existing, err := s.txRepo.GetByIdempotencyKey(ctx, item.IdempotencyKey); err != nil {
		return s.failItem(result, "internal_error")
	} else if existing != nil {
		result.Status = ports.SyncDuplicate
		result.TransactionID = &existing.ID
		return result
	}

	if item.Amount.LessThanOrEqual(decimal.Zero) {
		return s.failItem(result, syncReasonInvalidAmount)
	}

	merchant, err := s.merchantRepo.GetByID(ctx, item.MerchantID)
	if err != nil {
		return s.failItem(result, "internal_error")
	}
	if merchant == nil {
		return s.failItem(result, syncReasonMerchantNotFound)
	}
	if !merchant.Active {
		return s.failItem(result, syncReasonMerchantInactive)
	}

	txID, reason := s.settleItem(ctx, userID, item)
	if reason == "duplicate" {
		result.Status = ports.SyncDuplicate
		result.TransactionID = &txID
		return result
	}
	if reason != "" {
		return s.failItem(result, reason)
	}

	if err := s.idempCache.Set(ctx, item.IdempotencyKey, txID, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", item.IdempotencyKey.String()).Msg("failed to cache idempotency key")
	}

	result.Status = ports.SyncSynced
	result.TransactionID = &txID
	return result
}

// settleItem debits the wallet and records the synced transaction in
// one database transaction. Returns a failure reason, or "" on success.
func (s *SyncServiceImpl) settleItem(ctx context.Context, userID uuid.UUID, item ports.SyncItem) (uuid.UUID, string) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return uuid.Nil, "internal_error"
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return uuid.Nil, "internal_error"
	}
	if wallet == nil {
		// First contact with this user inside a sync: settle against a
		// fresh wallet created outside the block, then retry the lock.
		if _, err := s.walletRepo.GetOrCreate(ctx, userID, s.defaults.Currency, s.defaults.DailyLimit); err != nil {
			return uuid.Nil, "internal_error"
		}
		if wallet, err = s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, userID); err != nil || wallet == nil {
			return uuid.Nil, "internal_error"
		}
	}

	now := time.Now().UTC()
	if wallet.IsLockedAt(now) {
		return uuid.Nil, syncReasonWalletLocked
	}

	// Offline spends count against the server-side window they land in,
	// not the window they were recorded in.
	spentToday, err := s.txRepo.SumConfirmedPaymentsInTx(ctx, dbTx, userID, domain.DailyWindowStart(now))
	if err != nil {
		return uuid.Nil, "internal_error"
	}
	if !domain.CheckDailyLimit(wallet.DailyLimit, spentToday, item.Amount) {
		return uuid.Nil, syncReasonDailyLimit
	}

	_, applied, err := s.walletRepo.ApplyDelta(ctx, dbTx, userID, item.Amount.Neg())
	if err != nil {
		return uuid.Nil, "internal_error"
	}
	if !applied {
		return uuid.Nil, syncReasonInsufficientFunds
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: item.IdempotencyKey,
		UserID:         userID,
		MerchantID:     item.MerchantID,
		Amount:         item.Amount,
		Currency:       item.Currency,
		Status:         domain.TransactionStatusSynced,
		Type:           domain.TransactionTypePayment,
		Description:    item.Description,
		CreatedAt:      item.CreatedAt.UTC(),
		SyncedAt:       &now,
		UpdatedAt:      now,
	}

	created, err := s.txRepo.CreateInTx(ctx, dbTx, txn)
	if err != nil {
		return uuid.Nil, "internal_error"
	}
	if !created {
		// Key raced into the table after our check; the rollback undoes
		// the debit and the item reports as a duplicate downstream.
		if rbErr := dbTx.Rollback(ctx); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback after duplicate sync insert")
		}
		if raced, err := s.txRepo.GetByIdempotencyKey(ctx, item.IdempotencyKey); err == nil && raced != nil {
			return raced.ID, "duplicate"
		}
		return uuid.Nil, "internal_error"
	}

	if err := dbTx.Commit(ctx); err != nil {
		return uuid.Nil, "internal_error"
	}
	return txn.ID, ""
}

func (s *SyncServiceImpl) failItem(result ports.SyncItemResult, reason string) ports.SyncItemResult {
	result.Status = ports.SyncFailed
	result.Reason = reason
	return result
}
