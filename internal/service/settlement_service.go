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

const (
	idempotencyTTL = 24 * time.Hour

	// OTP challenge purposes.
	PurposeTransactionConfirm = "transaction_confirm"
	PurposeLogin              = "login"
	PurposeUnlock             = "wallet_unlock"
	PurposeLimitChange        = "limit_change"

	reasonUserCancelled     = "user_cancelled"
	reasonOTPDispatchFailed = "otp_dispatch_failed"
)

// WalletDefaults configure wallets created on first access.
type WalletDefaults struct {
	DailyLimit decimal.Decimal
	Currency   string
}

// SettlementServiceImpl implements ports.SettlementService: the
// initiate -> confirm/cancel/fail transaction state machine with
// OTP-gated settlement and pessimistic wallet locking.
type SettlementServiceImpl struct {
	txRepo       ports.TransactionRepository
	walletRepo   ports.WalletRepository
	merchantRepo ports.MerchantRepository
	idempCache   ports.IdempotencyCache
	otp          ports.OTPAuthority
	transactor   ports.DBTransactor
	audit        ports.AuditService
	defaults     WalletDefaults
	log          zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	merchantRepo ports.MerchantRepository,
	idempCache ports.IdempotencyCache,
	otp ports.OTPAuthority,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	defaults WalletDefaults,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		txRepo:       txRepo,
		walletRepo:   walletRepo,
		merchantRepo: merchantRepo,
		idempCache:   idempCache,
		otp:          otp,
		transactor:   transactor,
		audit:        audit,
		defaults:     defaults,
		log:          log,
	}
}

// Initiate creates a pending payment and issues the confirmation OTP.
// A reused idempotency key is rejected outright, whatever state the
// earlier transaction reached; initiation is deliberately not
// idempotent.
func (s *SettlementServiceImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.ErrInvalidAmount()
	}

	// Layer 1: Redis duplicate-key check
	if _, found, err := s.idempCache.Get(ctx, req.IdempotencyKey); err != nil {
		s.log.Warn().Err(err).Str("key", req.IdempotencyKey.String()).Msg("redis idempotency check failed, falling through to DB")
	} else if found {
		return nil, apperror.ErrDuplicateIdempotencyKey()
	}

	// Layer 2: DB duplicate-key check
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateIdempotencyKey()
	}

	merchant, err := s.merchantRepo.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("Merchant")
	}
	if !merchant.Active {
		return nil, apperror.Validation("Merchant is not accepting payments")
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, req.UserID, s.defaults.Currency, s.defaults.DailyLimit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet: %w", err))
	}

	now := time.Now().UTC()
	if err := s.guardLock(wallet, now); err != nil {
		return nil, err
	}

	// Advisory checks at initiation; the confirm path re-verifies both
	// under the wallet row lock.
	if wallet.Balance.LessThan(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}
	spentToday, err := s.txRepo.SumConfirmedPayments(ctx, req.UserID, domain.DailyWindowStart(now))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum daily spend: %w", err))
	}
	if !domain.CheckDailyLimit(wallet.DailyLimit, spentToday, req.Amount) {
		remaining := domain.RemainingDailyLimit(wallet.DailyLimit, spentToday)
		return nil, apperror.ErrDailyLimitExceeded(remaining.StringFixed(2))
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         domain.TransactionStatusPending,
		Type:           domain.TransactionTypePayment,
		Description:    req.Description,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.txRepo.Create(ctx, txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}
	if !created {
		// Raced another request carrying the same key.
		return nil, apperror.ErrDuplicateIdempotencyKey()
	}

	challengeID, err := s.otp.Issue(ctx, req.UserID, PurposeTransactionConfirm, map[string]string{
		"destination":    req.Phone,
		"transaction_id": txn.ID.String(),
	})
	if err != nil {
		// Without a deliverable challenge the transaction can never be
		// confirmed; cancel it rather than leave it for the sweeper.
		if _, cancelErr := s.txRepo.Cancel(ctx, txn.ID, reasonOTPDispatchFailed); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("transaction_id", txn.ID.String()).Msg("failed to cancel after otp dispatch failure")
		}
		return nil, apperror.ErrServiceUnavailable(fmt.Errorf("issue otp challenge: %w", err))
	}

	if err := s.txRepo.SetOTPChallenge(ctx, txn.ID, challengeID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("attach otp challenge: %w", err))
	}
	txn.OTPChallengeID = &challengeID

	if err := s.idempCache.Set(ctx, req.IdempotencyKey, txn.ID, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", req.IdempotencyKey.String()).Msg("failed to cache idempotency key")
	}

	s.audit.Record(ctx, &req.UserID, domain.AuditActionInitiate, "transaction", txn.ID.String(),
		fmt.Sprintf("amount=%s merchant=%s", req.Amount.StringFixed(2), req.MerchantID))

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("transaction initiated")

	summary := merchant.Summary()
	return &ports.InitiateResult{
		Transaction:          txn,
		Merchant:             &summary,
		ChallengeID:          challengeID,
		ConfirmationRequired: true,
	}, nil
}

// Confirm settles a pending transaction: OTP proof, then a debit and
// status flip in one database transaction under the wallet row lock.
func (s *SettlementServiceImpl) Confirm(ctx context.Context, userID, transactionID uuid.UUID, code string) (*ports.ConfirmResult, error) {
	txn, err := s.ownedTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if !txn.IsPending() {
		return nil, apperror.ErrTransactionNotPending(string(txn.Status))
	}
	if txn.OTPChallengeID == nil {
		return nil, apperror.ErrOTPExpired()
	}

	verify, _, err := s.otp.Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, code)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify otp: %w", err))
	}
	if !verify.OK {
		if verify.Expired {
			return nil, apperror.ErrOTPExpired()
		}
		if verify.AttemptsRemaining <= 0 {
			if _, failErr := s.txRepo.MarkFailed(ctx, txn.ID, domain.FailureOTPAttemptsExhausted); failErr != nil {
				s.log.Error().Err(failErr).Str("transaction_id", txn.ID.String()).Msg("failed to fail transaction after otp exhaustion")
			}
			s.audit.Record(ctx, &userID, domain.AuditActionConfirm, "transaction", txn.ID.String(), "otp attempts exhausted")
			return nil, apperror.ErrOTPAttemptsExhausted()
		}
		return nil, apperror.ErrInvalidOTP(verify.AttemptsRemaining)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	now := time.Now().UTC()
	if err := s.guardLock(wallet, now); err != nil {
		return nil, err
	}

	// Authoritative limit check under the row lock; spend may have
	// accumulated since initiation.
	spentToday, err := s.txRepo.SumConfirmedPaymentsInTx(ctx, dbTx, userID, domain.DailyWindowStart(now))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum daily spend: %w", err))
	}
	if !domain.CheckDailyLimit(wallet.DailyLimit, spentToday, txn.Amount) {
		remaining := domain.RemainingDailyLimit(wallet.DailyLimit, spentToday)
		return nil, apperror.ErrDailyLimitExceeded(remaining.StringFixed(2))
	}

	newBalance, applied, err := s.walletRepo.ApplyDelta(ctx, dbTx, userID, txn.Amount.Neg())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit wallet: %w", err))
	}
	if !applied {
		// Funds drained between initiation and confirmation. The debit
		// did not happen, so fail the transaction outside the block.
		if rbErr := dbTx.Rollback(ctx); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback after refused debit")
		}
		if _, failErr := s.txRepo.MarkFailed(ctx, txn.ID, domain.FailureInsufficientFundsAtConfirm); failErr != nil {
			s.log.Error().Err(failErr).Str("transaction_id", txn.ID.String()).Msg("failed to fail transaction after refused debit")
		}
		s.audit.Record(ctx, &userID, domain.AuditActionConfirm, "transaction", txn.ID.String(), "insufficient funds at confirm")
		return nil, apperror.ErrInsufficientFunds()
	}

	confirmed, err := s.txRepo.MarkConfirmed(ctx, dbTx, txn.ID, now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("confirm transaction: %w", err))
	}
	if !confirmed {
		// Lost a race with another terminal flip; the rollback also
		// undoes the debit. Report whatever status won the race.
		status := string(domain.TransactionStatusConfirmed)
		if raced, readErr := s.txRepo.GetByID(ctx, txn.ID); readErr == nil && raced != nil {
			status = string(raced.Status)
		}
		return nil, apperror.ErrTransactionNotPending(status)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = domain.TransactionStatusConfirmed
	txn.ConfirmedAt = &now
	txn.UpdatedAt = now

	s.audit.Record(ctx, &userID, domain.AuditActionConfirm, "transaction", txn.ID.String(),
		fmt.Sprintf("amount=%s balance=%s", txn.Amount.StringFixed(2), newBalance.StringFixed(2)))

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("user_id", userID.String()).
		Str("new_balance", newBalance.StringFixed(2)).
		Msg("transaction confirmed")

	return &ports.ConfirmResult{Transaction: txn, NewBalance: newBalance}, nil
}

// Cancel aborts a pending transaction. No funds move.
func (s *SettlementServiceImpl) Cancel(ctx context.Context, userID, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	txn, err := s.ownedTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = reasonUserCancelled
	}

	cancelled, err := s.txRepo.Cancel(ctx, txn.ID, reason)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("cancel transaction: %w", err))
	}
	if !cancelled {
		return nil, apperror.ErrTransactionNotPending(string(txn.Status))
	}

	now := time.Now().UTC()
	txn.Status = domain.TransactionStatusCancelled
	txn.FailureReason = &reason
	txn.UpdatedAt = now

	s.audit.Record(ctx, &userID, domain.AuditActionCancel, "transaction", txn.ID.String(), reason)

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("user_id", userID.String()).
		Str("reason", reason).
		Msg("transaction cancelled")

	return txn, nil
}

// Get returns a transaction owned by the user.
func (s *SettlementServiceImpl) Get(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	return s.ownedTransaction(ctx, userID, transactionID)
}

// ownedTransaction loads a transaction and hides other users' rows.
func (s *SettlementServiceImpl) ownedTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil || txn.UserID != userID {
		return nil, apperror.ErrTransactionNotFound()
	}
	return txn, nil
}

// guardLock maps wallet lock state to the matching error.
func (s *SettlementServiceImpl) guardLock(wallet *domain.Wallet, now time.Time) error {
	if !wallet.IsLockedAt(now) {
		return nil
	}
	if wallet.Emergency {
		return apperror.ErrWalletFrozen()
	}
	reason := ""
	if wallet.LockReason != nil {
		reason = *wallet.LockReason
	}
	return apperror.ErrWalletLocked(reason)
}

