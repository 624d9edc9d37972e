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

const emergencyDefaultReason = "emergency freeze"

// WalletServiceImpl implements ports.WalletService: wallet state,
// history, and the guard operations (lock, unlock, freeze, limits).
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	otp        ports.OTPAuthority
	audit      ports.AuditService
	defaults   WalletDefaults
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	otp ports.OTPAuthority,
	audit ports.AuditService,
	defaults WalletDefaults,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		otp:        otp,
		audit:      audit,
		defaults:   defaults,
		log:        log,
	}
}

// GetWallet returns the wallet with spend-so-far and remaining headroom
// for the current daily window. Creates the wallet on first access.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID uuid.UUID) (*ports.WalletSnapshot, error) {
	wallet, err := s.walletRepo.GetOrCreate(ctx, userID, s.defaults.Currency, s.defaults.DailyLimit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet: %w", err))
	}

	spentToday, err := s.txRepo.SumConfirmedPayments(ctx, userID, domain.DailyWindowStart(time.Now()))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum daily spend: %w", err))
	}

	return &ports.WalletSnapshot{
		Wallet:         wallet,
		SpentToday:     spentToday,
		RemainingToday: domain.RemainingDailyLimit(wallet.DailyLimit, spentToday),
	}, nil
}

// History lists the user's transactions with filters and pagination.
func (s *WalletServiceImpl) History(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

// Stats returns aggregated transaction statistics for the user.
func (s *WalletServiceImpl) Stats(ctx context.Context, userID uuid.UUID) (*ports.WalletStats, error) {
	now := time.Now()
	stats, err := s.txRepo.GetStats(ctx, userID,
		domain.DailyWindowStart(now), domain.WeekWindowStart(now), domain.MonthWindowStart(now))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet stats: %w", err))
	}
	return stats, nil
}

// Lock locks the wallet, optionally until a deadline. Locking is
// immediate and requires no OTP; unlocking does.
func (s *WalletServiceImpl) Lock(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration) (*domain.Wallet, error) {
	wallet, err := s.requireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Emergency {
		return nil, apperror.ErrWalletFrozen()
	}

	var until *time.Time
	if duration != nil {
		t := time.Now().UTC().Add(*duration)
		until = &t
	}

	if err := s.walletRepo.SetLocked(ctx, userID, true, &reason, until, false); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}

	wallet.IsLocked = true
	wallet.LockReason = &reason
	wallet.LockedUntil = until

	s.audit.Record(ctx, &userID, domain.AuditActionWalletLock, "wallet", userID.String(), reason)
	s.log.Info().Str("user_id", userID.String()).Str("reason", reason).Msg("wallet locked")

	return wallet, nil
}

// RequestUnlock issues the OTP challenge guarding an unlock.
// Emergency-frozen wallets refuse self-service unlock.
func (s *WalletServiceImpl) RequestUnlock(ctx context.Context, userID uuid.UUID, phone string) (string, error) {
	wallet, err := s.requireWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if wallet.Emergency {
		return "", apperror.ErrWalletFrozen()
	}
	if !wallet.IsLockedAt(time.Now()) {
		return "", apperror.Validation("Wallet is not locked")
	}

	challengeID, err := s.otp.Issue(ctx, userID, PurposeUnlock, map[string]string{"destination": phone})
	if err != nil {
		return "", apperror.ErrServiceUnavailable(fmt.Errorf("issue unlock challenge: %w", err))
	}
	return challengeID, nil
}

// Unlock clears the lock after OTP proof.
func (s *WalletServiceImpl) Unlock(ctx context.Context, userID uuid.UUID, challengeID, code string) (*domain.Wallet, error) {
	wallet, err := s.requireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Emergency {
		return nil, apperror.ErrWalletFrozen()
	}

	if err := s.verifyChallenge(ctx, userID, PurposeUnlock, challengeID, code); err != nil {
		return nil, err
	}

	if err := s.walletRepo.SetLocked(ctx, userID, false, nil, nil, false); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unlock wallet: %w", err))
	}

	wallet.IsLocked = false
	wallet.LockReason = nil
	wallet.LockedUntil = nil

	s.audit.Record(ctx, &userID, domain.AuditActionWalletUnlock, "wallet", userID.String(), "")
	s.log.Info().Str("user_id", userID.String()).Msg("wallet unlocked")

	return wallet, nil
}

// EmergencyFreeze hard-locks the wallet. Emergency freezes have no
// expiry and cannot be undone through the API.
func (s *WalletServiceImpl) EmergencyFreeze(ctx context.Context, userID uuid.UUID, reason string) (*domain.Wallet, error) {
	wallet, err := s.requireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = emergencyDefaultReason
	}

	if err := s.walletRepo.SetLocked(ctx, userID, true, &reason, nil, true); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("freeze wallet: %w", err))
	}

	wallet.IsLocked = true
	wallet.LockReason = &reason
	wallet.LockedUntil = nil
	wallet.Emergency = true

	s.audit.Record(ctx, &userID, domain.AuditActionEmergencyFreeze, "wallet", userID.String(), reason)
	s.log.Warn().Str("user_id", userID.String()).Str("reason", reason).Msg("wallet emergency frozen")

	return wallet, nil
}

// RequestLimitChange issues the OTP challenge guarding a limit update.
func (s *WalletServiceImpl) RequestLimitChange(ctx context.Context, userID uuid.UUID, phone string, newLimit decimal.Decimal) (string, error) {
	if newLimit.LessThanOrEqual(decimal.Zero) {
		return "", apperror.Validation("Daily limit must be positive")
	}
	if _, err := s.requireWallet(ctx, userID); err != nil {
		return "", err
	}

	challengeID, err := s.otp.Issue(ctx, userID, PurposeLimitChange, map[string]string{
		"destination": phone,
		"new_limit":   newLimit.StringFixed(2),
	})
	if err != nil {
		return "", apperror.ErrServiceUnavailable(fmt.Errorf("issue limit change challenge: %w", err))
	}
	return challengeID, nil
}

// SetDailyLimit applies a new daily limit after OTP proof. The limit
// submitted must match the one the challenge was issued for.
func (s *WalletServiceImpl) SetDailyLimit(ctx context.Context, userID uuid.UUID, challengeID, code string, newLimit decimal.Decimal) (*domain.Wallet, error) {
	if newLimit.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.Validation("Daily limit must be positive")
	}
	wallet, err := s.requireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	verify, metadata, err := s.otp.Verify(ctx, userID, PurposeLimitChange, challengeID, code)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify otp: %w", err))
	}
	if !verify.OK {
		return nil, s.verifyFailure(verify)
	}
	if pinned, ok := metadata["new_limit"]; ok && pinned != newLimit.StringFixed(2) {
		return nil, apperror.Validation("Limit does not match the approved change")
	}

	if err := s.walletRepo.UpdateDailyLimit(ctx, userID, newLimit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update daily limit: %w", err))
	}

	old := wallet.DailyLimit
	wallet.DailyLimit = newLimit

	s.audit.Record(ctx, &userID, domain.AuditActionLimitChange, "wallet", userID.String(),
		fmt.Sprintf("old=%s new=%s", old.StringFixed(2), newLimit.StringFixed(2)))
	s.log.Info().
		Str("user_id", userID.String()).
		Str("old_limit", old.StringFixed(2)).
		Str("new_limit", newLimit.StringFixed(2)).
		Msg("daily limit changed")

	return wallet, nil
}

func (s *WalletServiceImpl) requireWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return wallet, nil
}

func (s *WalletServiceImpl) verifyChallenge(ctx context.Context, userID uuid.UUID, purpose, challengeID, code string) error {
	verify, _, err := s.otp.Verify(ctx, userID, purpose, challengeID, code)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("verify otp: %w", err))
	}
	if !verify.OK {
		return s.verifyFailure(verify)
	}
	return nil
}

func (s *WalletServiceImpl) verifyFailure(verify *ports.OTPVerifyResult) error {
	if verify.Expired {
		return apperror.ErrOTPExpired()
	}
	if verify.AttemptsRemaining <= 0 {
		return apperror.ErrOTPAttemptsExhausted()
	}
	return apperror.ErrInvalidOTP(verify.AttemptsRemaining)
}
