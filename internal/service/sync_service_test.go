package service

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type syncTestDeps struct {
	svc          *SyncServiceImpl
	txRepo       *mocks.MockTransactionRepository
	walletRepo   *mocks.MockWalletRepository
	merchantRepo *mocks.MockMerchantRepository
	idempCache   *mocks.MockIdempotencyCache
	transactor   *mocks.MockDBTransactor
}

func setupSyncService(t *testing.T) *syncTestDeps {
	ctrl := gomock.NewController(t)
	audit := mocks.NewMockAuditService(ctrl)
	audit.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d := &syncTestDeps{
		txRepo:       mocks.NewMockTransactionRepository(ctrl),
		walletRepo:   mocks.NewMockWalletRepository(ctrl),
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		idempCache:   mocks.NewMockIdempotencyCache(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewSyncService(
		d.txRepo, d.walletRepo, d.merchantRepo, d.idempCache, d.transactor, audit,
		WalletDefaults{DailyLimit: decimal.RequireFromString("1000.00"), Currency: "USD"},
		zerolog.Nop(),
	)
	return d
}

func syncItem(amount string) ports.SyncItem {
	return ports.SyncItem{
		IdempotencyKey: uuid.New(),
		MerchantID:     uuid.New(),
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Description:    "offline purchase",
		CreatedAt:      time.Now().UTC().Add(-2 * time.Hour),
	}
}

// expectFreshItem wires the dedup misses and merchant lookup every
// non-duplicate item goes through.
func (d *syncTestDeps) expectFreshItem(ctx context.Context, item ports.SyncItem) {
	d.idempCache.EXPECT().Get(ctx, item.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, item.IdempotencyKey).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, item.MerchantID).Return(activeMerchant(item.MerchantID), nil)
}

func TestSyncBatch_Empty(t *testing.T) {
	d := setupSyncService(t)

	_, err := d.svc.SyncBatch(context.Background(), uuid.New(), nil)

	assertAppError(t, err, "PAY_002")
}

func TestSyncBatch_SingleItemSynced(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "100.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, decimal.RequireFromString("-30.00")).
		Return(decimal.RequireFromString("70.00"), true, nil)
	d.txRepo.EXPECT().CreateInTx(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, txn *domain.Transaction) (bool, error) {
			assert.Equal(t, domain.TransactionStatusSynced, txn.Status)
			assert.Equal(t, item.CreatedAt.UTC(), txn.CreatedAt)
			require.NotNil(t, txn.SyncedAt)
			return true, nil
		})
	d.idempCache.EXPECT().Set(ctx, item.IdempotencyKey, gomock.Any(), idempotencyTTL).Return(nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 0, summary.Duplicates)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, ports.SyncSynced, summary.Results[0].Status)
	require.NotNil(t, summary.Results[0].TransactionID)
}

func TestSyncBatch_DuplicateFromCache(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")
	originalID := uuid.New()

	d.idempCache.EXPECT().Get(ctx, item.IdempotencyKey).Return(originalID, true, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, ports.SyncDuplicate, summary.Results[0].Status)
	assert.Equal(t, originalID, *summary.Results[0].TransactionID)
}

func TestSyncBatch_DuplicateFromDB(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")
	original := pendingTransaction(userID, "30.00")
	original.IdempotencyKey = item.IdempotencyKey

	d.idempCache.EXPECT().Get(ctx, item.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, item.IdempotencyKey).Return(original, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, original.ID, *summary.Results[0].TransactionID)
}

func TestSyncBatch_InvalidAmountItemFails(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")
	item.Amount = decimal.Zero

	d.idempCache.EXPECT().Get(ctx, item.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, item.IdempotencyKey).Return(nil, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, syncReasonInvalidAmount, summary.Results[0].Reason)
}

func TestSyncBatch_MerchantChecks(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()

	missing := syncItem("10.00")
	inactive := syncItem("10.00")
	inactiveMerchant := activeMerchant(inactive.MerchantID)
	inactiveMerchant.Active = false

	d.idempCache.EXPECT().Get(ctx, missing.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, missing.IdempotencyKey).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, missing.MerchantID).Return(nil, nil)

	d.idempCache.EXPECT().Get(ctx, inactive.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, inactive.IdempotencyKey).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, inactive.MerchantID).Return(inactiveMerchant, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{missing, inactive})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, syncReasonMerchantNotFound, summary.Results[0].Reason)
	assert.Equal(t, syncReasonMerchantInactive, summary.Results[1].Reason)
}

func TestSyncBatch_WalletLockedItemFails(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")
	wallet := openWallet(userID, "100.00")
	wallet.IsLocked = true

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).Return(wallet, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, syncReasonWalletLocked, summary.Results[0].Reason)
}

func TestSyncBatch_InsufficientFundsItemFails(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "5.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, false, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, syncReasonInsufficientFunds, summary.Results[0].Reason)
}

func TestSyncBatch_DailyLimitItemFails(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "5000.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("985.00"), nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, syncReasonDailyLimit, summary.Results[0].Reason)
}

func TestSyncBatch_RacedInsertReportsDuplicate(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")
	raced := pendingTransaction(userID, "30.00")
	raced.IdempotencyKey = item.IdempotencyKey

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "100.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("70.00"), true, nil)
	// Unique key violation: someone inserted the key after our checks.
	d.txRepo.EXPECT().CreateInTx(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, item.IdempotencyKey).Return(raced, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, raced.ID, *summary.Results[0].TransactionID)
}

func TestSyncBatch_FirstContactCreatesWallet(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	item := syncItem("30.00")

	d.expectFreshItem(ctx, item)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	gomock.InOrder(
		d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).Return(nil, nil),
		d.walletRepo.EXPECT().GetOrCreate(ctx, userID, "USD", decimal.RequireFromString("1000.00")).
			Return(openWallet(userID, "0.00"), nil),
		d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
			Return(openWallet(userID, "100.00"), nil),
	)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("70.00"), true, nil)
	d.txRepo.EXPECT().CreateInTx(ctx, gomock.Any(), gomock.Any()).Return(true, nil)
	d.idempCache.EXPECT().Set(ctx, item.IdempotencyKey, gomock.Any(), idempotencyTTL).Return(nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{item})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
}

func TestSyncBatch_MixedOutcomesPreserveOrder(t *testing.T) {
	d := setupSyncService(t)
	ctx := context.Background()
	userID := uuid.New()
	good := syncItem("10.00")
	dup := syncItem("20.00")
	bad := syncItem("30.00")
	bad.Amount = decimal.RequireFromString("-1.00")
	dupID := uuid.New()

	d.expectFreshItem(ctx, good)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.walletRepo.EXPECT().GetByUserIDForUpdate(ctx, gomock.Any(), userID).
		Return(openWallet(userID, "100.00"), nil)
	d.txRepo.EXPECT().SumConfirmedPaymentsInTx(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.Zero, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, gomock.Any(), userID, gomock.Any()).
		Return(decimal.RequireFromString("90.00"), true, nil)
	d.txRepo.EXPECT().CreateInTx(ctx, gomock.Any(), gomock.Any()).Return(true, nil)
	d.idempCache.EXPECT().Set(ctx, good.IdempotencyKey, gomock.Any(), idempotencyTTL).Return(nil)

	d.idempCache.EXPECT().Get(ctx, dup.IdempotencyKey).Return(dupID, true, nil)

	d.idempCache.EXPECT().Get(ctx, bad.IdempotencyKey).Return(uuid.Nil, false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, bad.IdempotencyKey).Return(nil, nil)

	summary, err := d.svc.SyncBatch(ctx, userID, []ports.SyncItem{good, dup, bad})

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, ports.SyncSynced, summary.Results[0].Status)
	assert.Equal(t, ports.SyncDuplicate, summary.Results[1].Status)
	assert.Equal(t, ports.SyncFailed, summary.Results[2].Status)
}
