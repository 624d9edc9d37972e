package integration

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentConfirms fires concurrent confirmations of separately
// initiated payments against one wallet. The balance covers only half
// of them; serialised settlement must let exactly that half through and
// never drive the balance negative.
func TestConcurrentConfirms(t *testing.T) {
	app := newTestApp(t)
	phone := "+14155550200"
	token := app.login(t, phone)
	userID := app.fundWallet(t, phone, "500.00")
	merchantID := app.seedMerchant(t, "Flash Sale")

	// Initiate sequentially so each confirmation code can be captured
	// before the next challenge overwrites it.
	const payments = 10
	type pendingPayment struct {
		txID string
		code string
	}
	pendings := make([]pendingPayment, 0, payments)
	for i := 0; i < payments; i++ {
		txID, code := app.initiatePayment(t, token, phone, merchantID, "100.00")
		pendings = append(pendings, pendingPayment{txID: txID, code: code})
	}

	var confirmed, rejected, other atomic.Int64
	var wg sync.WaitGroup
	for _, p := range pendings {
		wg.Add(1)
		go func(p pendingPayment) {
			defer wg.Done()
			resp := app.do(t, http.MethodPost, "/api/v1/transactions/"+p.txID+"/confirm", token, map[string]string{"code": p.code})
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				confirmed.Add(1)
			case http.StatusPaymentRequired:
				rejected.Add(1)
			default:
				other.Add(1)
			}
		}(p)
	}
	wg.Wait()

	// 500.00 at 100.00 apiece: exactly five settle.
	assert.Equal(t, int64(5), confirmed.Load())
	assert.Equal(t, int64(5), rejected.Load())
	assert.Equal(t, int64(0), other.Load())

	wallet, err := app.walletRepo.GetByUserID(t.Context(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.Zero), "final balance %s", wallet.Balance)

	// Rejected transactions are terminal failures, not stuck pendings.
	resp := app.do(t, http.MethodGet, "/api/v1/wallet/stats", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeData(t, resp)
	assert.Equal(t, float64(5), stats["confirmed"])
	assert.Equal(t, float64(5), stats["failed"])
	assert.Equal(t, float64(0), stats["pending"])
}

// TestConcurrentInitiateSameKey submits the same idempotency key from
// many goroutines at once. Exactly one transaction may be created; every
// other request must be rejected as a duplicate.
func TestConcurrentInitiateSameKey(t *testing.T) {
	app := newTestApp(t)
	phone := "+14155550201"
	token := app.login(t, phone)
	app.fundWallet(t, phone, "500.00")
	merchantID := app.seedMerchant(t, "Retry Storm")

	key := uuid.NewString()
	body := map[string]any{
		"idempotency_key": key,
		"merchant_id":     merchantID.String(),
		"amount":          "50.00",
		"currency":        "USD",
	}

	const attempts = 20
	var created, rejected atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := app.do(t, http.MethodPost, "/api/v1/transactions", token, body)
			switch resp.StatusCode {
			case http.StatusCreated:
				created.Add(1)
				resp.Body.Close()
			case http.StatusConflict:
				rejected.Add(1)
				assert.Equal(t, "PAY_004", decodeErrorCode(t, resp))
			default:
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(attempts-1), rejected.Load())

	resp := app.do(t, http.MethodGet, "/api/v1/wallet/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeData(t, resp)
	assert.Len(t, list["transactions"], 1, "only one transaction row may exist for the key")
}

// TestConcurrentSyncSameItem replays the same offline item in parallel
// batches. One batch wins the insert; the rest report a duplicate, and
// the wallet is debited exactly once.
func TestConcurrentSyncSameItem(t *testing.T) {
	app := newTestApp(t)
	phone := "+14155550202"
	token := app.login(t, phone)
	userID := app.fundWallet(t, phone, "300.00")
	merchantID := app.seedMerchant(t, "Spotty Wifi")

	body := map[string]any{
		"transactions": []map[string]any{{
			"idempotency_key": uuid.NewString(),
			"merchant_id":     merchantID.String(),
			"amount":          "75.00",
			"currency":        "USD",
			"created_at":      time.Now().UTC().Add(-30 * time.Minute).Format(time.RFC3339),
		}},
	}

	const batches = 8
	var synced, duplicates atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := app.do(t, http.MethodPost, "/api/v1/transactions/sync", token, body)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			data := decodeData(t, resp)
			synced.Add(int64(data["synced"].(float64)))
			duplicates.Add(int64(data["duplicates"].(float64)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), synced.Load())
	assert.Equal(t, int64(batches-1), duplicates.Load())

	wallet, err := app.walletRepo.GetByUserID(t.Context(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("225.00")), "balance %s", wallet.Balance)
}

// TestConcurrentFirstAccess hits the wallet endpoint from many
// goroutines for a brand-new user. Lazy creation must produce a single
// wallet with the default limit.
func TestConcurrentFirstAccess(t *testing.T) {
	app := newTestApp(t)
	phone := "+14155550203"
	token := app.login(t, phone)

	const readers = 16
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := app.do(t, http.MethodGet, "/api/v1/wallet", token, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			data := decodeData(t, resp)
			assert.Equal(t, "0.00", data["balance"])
			assert.Equal(t, "1000.00", data["daily_limit"])
		}()
	}
	wg.Wait()
}
