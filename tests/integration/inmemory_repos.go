package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	cp := *w
	return &cp
}

func (r *inMemoryWalletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string, dailyLimit decimal.Decimal) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[userID]; ok {
		return copyWallet(w), nil
	}
	now := time.Now().UTC()
	w := &domain.Wallet{
		UserID:     userID,
		Balance:    decimal.Zero,
		Currency:   currency,
		DailyLimit: dailyLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.wallets[userID] = w
	return copyWallet(w), nil
}

func (r *inMemoryWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, nil
	}
	return copyWallet(w), nil
}

func (r *inMemoryWalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *inMemoryWalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return decimal.Zero, false, nil
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, false, nil
	}
	now := time.Now().UTC()
	w.Balance = next
	w.LastTransactionAt = &now
	w.UpdatedAt = now
	return next, true, nil
}

func (r *inMemoryWalletRepo) SetLocked(ctx context.Context, userID uuid.UUID, locked bool, reason *string, until *time.Time, emergency bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return fmt.Errorf("wallet not found: %s", userID)
	}
	w.IsLocked = locked
	w.LockReason = reason
	w.LockedUntil = until
	w.Emergency = emergency
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryWalletRepo) UpdateDailyLimit(ctx context.Context, userID uuid.UUID, limit decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return fmt.Errorf("wallet not found: %s", userID)
	}
	w.DailyLimit = limit
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
	byKey        map[uuid.UUID]uuid.UUID
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byKey:        make(map[uuid.UUID]uuid.UUID),
	}
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	return &cp
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, t *domain.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[t.IdempotencyKey]; exists {
		return false, nil
	}
	r.transactions[t.ID] = copyTransaction(t)
	r.byKey[t.IdempotencyKey] = t.ID
	return true, nil
}

func (r *inMemoryTransactionRepo) CreateInTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) (bool, error) {
	return r.Create(ctx, t)
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	return copyTransaction(t), nil
}

func (r *inMemoryTransactionRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	return copyTransaction(r.transactions[id]), nil
}

func (r *inMemoryTransactionRepo) SetOTPChallenge(ctx context.Context, id uuid.UUID, challengeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	t.OTPChallengeID = &challengeID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok || t.Status != domain.TransactionStatusPending {
		return false, nil
	}
	t.Status = domain.TransactionStatusConfirmed
	t.ConfirmedAt = &at
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryTransactionRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.finishPending(id, domain.TransactionStatusFailed, reason)
}

func (r *inMemoryTransactionRepo) Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.finishPending(id, domain.TransactionStatusCancelled, reason)
}

func (r *inMemoryTransactionRepo) finishPending(id uuid.UUID, status domain.TransactionStatus, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok || t.Status != domain.TransactionStatusPending {
		return false, nil
	}
	t.Status = status
	t.FailureReason = &reason
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryTransactionRepo) SumConfirmedPayments(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sumLocked(userID, since), nil
}

func (r *inMemoryTransactionRepo) SumConfirmedPaymentsInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return r.SumConfirmedPayments(ctx, userID, since)
}

func settledPayment(t *domain.Transaction) bool {
	return t.Type == domain.TransactionTypePayment &&
		(t.Status == domain.TransactionStatusConfirmed || t.Status == domain.TransactionStatusSynced)
}

func (r *inMemoryTransactionRepo) sumLocked(userID uuid.UUID, since time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.transactions {
		if t.UserID == userID && settledPayment(t) && !t.CreatedAt.Before(since) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.UserID != params.UserID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.From != nil && t.CreatedAt.Before(*params.From) {
			continue
		}
		if params.To != nil && t.CreatedAt.After(*params.To) {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryTransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, dayStart, weekStart, monthStart time.Time) (*ports.WalletStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.WalletStats{
		SpentToday:     decimal.Zero,
		SpentThisWeek:  decimal.Zero,
		SpentThisMonth: decimal.Zero,
	}
	for _, t := range r.transactions {
		if t.UserID != userID {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusPending:
			stats.Pending++
		case domain.TransactionStatusConfirmed:
			stats.Confirmed++
		case domain.TransactionStatusFailed:
			stats.Failed++
		case domain.TransactionStatusCancelled:
			stats.Cancelled++
		case domain.TransactionStatusSynced:
			stats.Synced++
		}
		if settledPayment(t) {
			if !t.CreatedAt.Before(dayStart) {
				stats.SpentToday = stats.SpentToday.Add(t.Amount)
			}
			if !t.CreatedAt.Before(weekStart) {
				stats.SpentThisWeek = stats.SpentThisWeek.Add(t.Amount)
			}
			if !t.CreatedAt.Before(monthStart) {
				stats.SpentThisMonth = stats.SpentThisMonth.Add(t.Amount)
			}
		}
	}
	return stats, nil
}

func (r *inMemoryTransactionRepo) ExpirePending(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, t := range r.transactions {
		if t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(olderThan) {
			t.Status = domain.TransactionStatusCancelled
			reason := domain.FailureExpired
			t.FailureReason = &reason
			t.UpdatedAt = time.Now().UTC()
			swept++
		}
	}
	return swept, nil
}

// --- In-Memory Merchant Repo ---

type inMemoryMerchantRepo struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*domain.Merchant
}

func newInMemoryMerchantRepo() *inMemoryMerchantRepo {
	return &inMemoryMerchantRepo{merchants: make(map[uuid.UUID]*domain.Merchant)}
}

func (r *inMemoryMerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[m.ID] = m
	return nil
}

func (r *inMemoryMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// --- In-Memory Transactor ---

// inMemoryTransactor serialises transaction blocks with a single mutex,
// standing in for the row locks the settlement path takes in postgres.
type inMemoryTransactor struct {
	mu sync.Mutex
}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &memTx{release: t.mu.Unlock}, nil
}

// memTx is a no-op pgx.Tx whose Commit/Rollback release the transactor
// lock exactly once. Rollback after Commit is a no-op, matching the
// deferred-rollback pattern in the services.
type memTx struct {
	once    sync.Once
	release func()
}

func (t *memTx) done() {
	t.once.Do(t.release)
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Commit(ctx context.Context) error          { t.done(); return nil }
func (t *memTx) Rollback(ctx context.Context) error        { t.done(); return nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// --- Capturing Notification Channel ---

// captureChannel records the last OTP code sent to each destination so
// tests can complete challenge flows without a real provider.
type captureChannel struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureChannel() *captureChannel {
	return &captureChannel{codes: make(map[string]string)}
}

func (c *captureChannel) Send(ctx context.Context, destination, code, purpose string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[destination] = code
	return nil
}

func (c *captureChannel) lastCode(destination string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[destination]
}
