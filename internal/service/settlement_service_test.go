package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing; only the methods the service
// touches are overridden.
type mockTx struct {
	pgx.Tx
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type settlementTestDeps struct {
	svc          *SettlementServiceImpl
	txRepo       *mocks.MockTransactionRepository
	walletRepo   *mocks.MockWalletRepository
	merchantRepo *mocks.MockMerchantRepository
	idempCache   *mocks.MockIdempotencyCache
	otp          *mocks.MockOTPAuthority
	transactor   *mocks.MockDBTransactor
	audit        *mocks.MockAuditService
}

func setupSettlementService(t *testing.T) *settlementTestDeps {
	ctrl := gomock.NewController(t)
	d := &settlementTestDeps{
		txRepo:       mocks.NewMockTransactionRepository(ctrl),
		walletRepo:   mocks.NewMockWalletRepository(ctrl),
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		idempCache:   mocks.NewMockIdempotencyCache(ctrl),
		otp:          mocks.NewMockOTPAuthority(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		audit:        mocks.NewMockAuditService(ctrl),
	}
	d.audit.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.svc = NewSettlementService(
		d.txRepo, d.walletRepo, d.merchantRepo, d.idempCache, d.otp, d.transactor, d.audit,
		WalletDefaults{DailyLimit: decimal.RequireFromString("1000.00"), Currency: "USD"},
		zerolog.Nop(),
	)
	return d
}

func activeMerchant(id uuid.UUID) *domain.Merchant {
	return &domain.Merchant{ID: id, Name: "Coffee Corner", Category: "food", Active: true}
}

func openWallet(userID uuid.UUID, balance string) *domain.Wallet {
	return &domain.Wallet{
		UserID:     userID,
		Balance:    decimal.RequireFromString(balance),
		Currency:   "USD",
		DailyLimit: decimal.RequireFromString("1000.00"),
	}
}

func pendingTransaction(userID uuid.UUID, amount string) *domain.Transaction {
	challengeID := uuid.NewString()
	return &domain.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: uuid.New(),
		UserID:         userID,
		MerchantID:     uuid.New(),
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Status:         domain.TransactionStatusPending,
		Type:           domain.TransactionTypePayment,
		OTPChallengeID: &challengeID,
		CreatedAt:      time.Now().UTC(),
	}
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestSettlementInitiate_Success(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	merchantID := uuid.New()
	req := ports.InitiateRequest{
		UserID:         userID,
		Phone:          "+84901234567",
		IdempotencyKey: uuid.New(),
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
		Currency:       "USD",
		Description:    "espresso",
	}

	d.idempCache.EXPECT().Get(ctx, req.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, req.IdempotencyKey).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", decimal.RequireFromString("1000.00")).
		Return(openWallet(userID, "200.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).Return(decimal.Zero, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)
	d.otp.EXPECT().Issue(ctx, userID, PurposeTransactionConfirm, gomock.Any()).Return("challenge-1", nil)
	d.txRepo.EXPECT().SetOTPChallenge(ctx, gomock.Any(), "challenge-1").Return(nil)
	d.idempCache.EXPECT().Set(ctx, req.IdempotencyKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Initiate(ctx, req)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.ConfirmationRequired)
	assert.Equal(t, "challenge-1", result.ChallengeID)
	assert.Equal(t, domain.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, domain.TransactionTypePayment, result.Transaction.Type)
	require.NotNil(t, result.Merchant)
	assert.Equal(t, "Coffee Corner", result.Merchant.Name)
}

func TestSettlementInitiate_InvalidAmount(t *testing.T) {
	d := setupSettlementService(t)

	_, err := d.svc.Initiate(context.Background(), ports.InitiateRequest{
		UserID:         uuid.New(),
		IdempotencyKey: uuid.New(),
		MerchantID:     uuid.New(),
		Amount:         decimal.RequireFromString("-5.00"),
	})

	assertAppError(t, err, "PAY_002")
}

func TestSettlementInitiate_DuplicateKeyInCache(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	existing := pendingTransaction(userID, "50.00")

	d.idempCache.EXPECT().Get(ctx, existing.IdempotencyKey).Return(existing.ID, true, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: existing.IdempotencyKey,
		MerchantID:     existing.MerchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_004")
}

func TestSettlementInitiate_DuplicateKeyInDB(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	existing := pendingTransaction(userID, "50.00")
	// The earlier transaction's state does not matter; the key alone
	// makes the second initiation a duplicate.
	existing.Status = domain.TransactionStatusConfirmed

	d.idempCache.EXPECT().Get(ctx, existing.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, existing.IdempotencyKey).Return(existing, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: existing.IdempotencyKey,
		MerchantID:     existing.MerchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_004")
}

func TestSettlementInitiate_DuplicateKeyInsertRace(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	merchantID := uuid.New()
	key := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", decimal.RequireFromString("1000.00")).
		Return(openWallet(userID, "200.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).Return(decimal.Zero, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(false, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
		Currency:       "USD",
	})

	assertAppError(t, err, "PAY_004")
}

func TestSettlementInitiate_MerchantNotFound(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	key := uuid.New()
	merchantID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(nil, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         uuid.New(),
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_005")
}

func TestSettlementInitiate_MerchantInactive(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	key := uuid.New()
	merchantID := uuid.New()
	merchant := activeMerchant(merchantID)
	merchant.Active = false

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(merchant, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         uuid.New(),
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_002")
}

func TestSettlementInitiate_WalletLocked(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()
	wallet := openWallet(userID, "200.00")
	wallet.IsLocked = true
	reason := "suspicious activity"
	wallet.LockReason = &reason

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).Return(wallet, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "WAL_002")
}

func TestSettlementInitiate_WalletFrozen(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()
	wallet := openWallet(userID, "200.00")
	wallet.IsLocked = true
	wallet.Emergency = true

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).Return(wallet, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "WAL_003")
}

func TestSettlementInitiate_TimedLockExpired(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()
	wallet := openWallet(userID, "200.00")
	wallet.IsLocked = true
	past := time.Now().UTC().Add(-time.Hour)
	wallet.LockedUntil = &past

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).Return(wallet, nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).Return(decimal.Zero, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)
	d.otp.EXPECT().Issue(ctx, userID, PurposeTransactionConfirm, gomock.Any()).Return("challenge-1", nil)
	d.txRepo.EXPECT().SetOTPChallenge(ctx, gomock.Any(), "challenge-1").Return(nil)
	d.idempCache.EXPECT().Set(ctx, key, gomock.Any(), idempotencyTTL).Return(nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	require.NoError(t, err)
}

func TestSettlementInitiate_InsufficientFunds(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).
		Return(openWallet(userID, "10.00"), nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_001")
}

func TestSettlementInitiate_DailyLimitExceeded(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).
		Return(openWallet(userID, "5000.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).
		Return(decimal.RequireFromString("980.00"), nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "PAY_003")
}

func TestSettlementInitiate_ExactDailyLimitAllowed(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).
		Return(openWallet(userID, "5000.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).
		Return(decimal.RequireFromString("950.00"), nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)
	d.otp.EXPECT().Issue(ctx, userID, PurposeTransactionConfirm, gomock.Any()).Return("challenge-1", nil)
	d.txRepo.EXPECT().SetOTPChallenge(ctx, gomock.Any(), "challenge-1").Return(nil)
	d.idempCache.EXPECT().Set(ctx, key, gomock.Any(), idempotencyTTL).Return(nil)

	// 950 spent + 50 == 1000 limit; inclusive bound passes.
	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	require.NoError(t, err)
}

func TestSettlementInitiate_OTPDispatchFailureCancels(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	key := uuid.New()
	merchantID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(activeMerchant(merchantID), nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", gomock.Any()).
		Return(openWallet(userID, "200.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPayments(ctx, userID, gomock.Any()).Return(decimal.Zero, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(true, nil)
	d.otp.EXPECT().Issue(ctx, userID, PurposeTransactionConfirm, gomock.Any()).
		Return("", errors.New("provider down"))
	d.txRepo.EXPECT().Cancel(ctx, gomock.Any(), reasonOTPDispatchFailed).Return(true, nil)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		UserID:         userID,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		Amount:         decimal.RequireFromString("50.00"),
	})

	assertAppError(t, err, "SYS_002")
}

func TestSettlementConfirm_Success(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: true}, map[string]string{"transaction_id": txn.ID.String()}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "200.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, decimal.RequireFromString("-50.00")).
		Return(decimal.RequireFromString("150.00"), true, nil)
	d.txRepo.EXPECT().MarkConfirmed(ctx, gomock.Any(), txn.ID, gomock.Any()).Return(true, nil)

	result, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusConfirmed, result.Transaction.Status)
	require.NotNil(t, result.Transaction.ConfirmedAt)
	assert.True(t, decimal.RequireFromString("150.00").Equal(result.NewBalance))
}

func TestSettlementConfirm_NotOwner(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	txn := pendingTransaction(uuid.New(), "50.00")
	stranger := uuid.New()

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)

	_, err := d.svc.Confirm(ctx, stranger, txn.ID, "123456")

	// Other users' transactions are indistinguishable from missing ones.
	assertAppError(t, err, "TXN_001")
}

func TestSettlementConfirm_NotPending(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")
	txn.Status = domain.TransactionStatusConfirmed

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "TXN_002")
}

func TestSettlementConfirm_WrongOTP(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "000000").
		Return(&ports.OTPVerifyResult{OK: false, AttemptsRemaining: 2}, nil, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "000000")

	assertAppError(t, err, "OTP_001")
}

func TestSettlementConfirm_OTPExpired(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: false, Expired: true}, nil, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "OTP_002")
}

func TestSettlementConfirm_AttemptsExhaustedFailsTransaction(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "000000").
		Return(&ports.OTPVerifyResult{OK: false, AttemptsRemaining: 0}, nil, nil)
	d.txRepo.EXPECT().MarkFailed(ctx, txn.ID, domain.FailureOTPAttemptsExhausted).Return(true, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "000000")

	assertAppError(t, err, "OTP_003")
}

func TestSettlementConfirm_InsufficientFundsFailsTransaction(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: true}, nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "10.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	// Debit refused by the balance guard.
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, decimal.RequireFromString("-50.00")).
		Return(decimal.Zero, false, nil)
	d.txRepo.EXPECT().MarkFailed(ctx, txn.ID, domain.FailureInsufficientFundsAtConfirm).Return(true, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "PAY_001")
}

func TestSettlementConfirm_DailyLimitRecheckedUnderLock(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: true}, nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "5000.00"), nil)
	// Spend accumulated since initiation pushes this over the cap.
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("960.00"), nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "PAY_003")
}

func TestSettlementConfirm_WalletFrozenUnderLock(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")
	wallet := openWallet(userID, "200.00")
	wallet.IsLocked = true
	wallet.Emergency = true

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: true}, nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).Return(wallet, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "WAL_003")
}

func TestSettlementConfirm_LostStatusRace(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.otp.EXPECT().Verify(ctx, userID, PurposeTransactionConfirm, *txn.OTPChallengeID, "123456").
		Return(&ports.OTPVerifyResult{OK: true}, nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "200.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("150.00"), true, nil)
	// Another writer flipped the status first; the rollback undoes the
	// debit, and the error names the status that won the race.
	d.txRepo.EXPECT().MarkConfirmed(ctx, gomock.Any(), txn.ID, gomock.Any()).Return(false, nil)
	raced := *txn
	raced.Status = domain.TransactionStatusCancelled
	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(&raced, nil)

	_, err := d.svc.Confirm(ctx, userID, txn.ID, "123456")

	assertAppError(t, err, "TXN_002")
	assert.Contains(t, err.Error(), "cancelled")
}

func TestSettlementCancel_Success(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.txRepo.EXPECT().Cancel(ctx, txn.ID, "changed my mind").Return(true, nil)

	result, err := d.svc.Cancel(ctx, userID, txn.ID, "changed my mind")

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, result.Status)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, "changed my mind", *result.FailureReason)
}

func TestSettlementCancel_DefaultReason(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.txRepo.EXPECT().Cancel(ctx, txn.ID, reasonUserCancelled).Return(true, nil)

	result, err := d.svc.Cancel(ctx, userID, txn.ID, "")

	require.NoError(t, err)
	assert.Equal(t, reasonUserCancelled, *result.FailureReason)
}

func TestSettlementCancel_NotPending(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	userID := uuid.New()
	txn := pendingTransaction(userID, "50.00")
	txn.Status = domain.TransactionStatusConfirmed

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.txRepo.EXPECT().Cancel(ctx, txn.ID, reasonUserCancelled).Return(false, nil)

	_, err := d.svc.Cancel(ctx, userID, txn.ID, "")

	assertAppError(t, err, "TXN_002")
}

func TestSettlementGet_HidesOtherUsers(t *testing.T) {
	d := setupSettlementService(t)
	ctx := context.Background()
	txn := pendingTransaction(uuid.New(), "50.00")

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)

	_, err := d.svc.Get(ctx, uuid.New(), txn.ID)

	assertAppError(t, err, "TXN_001")
}
