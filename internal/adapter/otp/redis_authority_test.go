package otp

import (
	"context"
	"io"
	"testing"
	"time"

	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureChannel records issued codes instead of delivering them.
type captureChannel struct {
	destination string
	code        string
	purpose     string
}

func (c *captureChannel) Send(ctx context.Context, destination, code, purpose string) error {
	c.destination = destination
	c.code = code
	c.purpose = purpose
	return nil
}

func newTestAuthority(t *testing.T) (*RedisAuthority, *captureChannel, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	ch := &captureChannel{}
	auth := NewRedisAuthority(client, service.NewArgon2HashService(), ch, 5*time.Minute, 3,
		logger.NewWithWriter("error", io.Discard))
	return auth, ch, s
}

func TestRedisAuthority_IssueAndVerify(t *testing.T) {
	auth, ch, _ := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "transaction_confirm", map[string]string{
		"destination":    "+15551234567",
		"transaction_id": "abc-123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)

	assert.Equal(t, "+15551234567", ch.destination)
	assert.Len(t, ch.code, 6)
	assert.Equal(t, "transaction_confirm", ch.purpose)

	result, metadata, err := auth.Verify(ctx, subject, "transaction_confirm", challengeID, ch.code)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "abc-123", metadata["transaction_id"])
}

func TestRedisAuthority_ChallengeIsSingleUse(t *testing.T) {
	auth, ch, _ := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "login", map[string]string{"destination": "+1555"})
	require.NoError(t, err)

	result, _, err := auth.Verify(ctx, subject, "login", challengeID, ch.code)
	require.NoError(t, err)
	require.True(t, result.OK)

	// Replaying the same code must fail: challenge was consumed.
	result, _, err = auth.Verify(ctx, subject, "login", challengeID, ch.code)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.True(t, result.Expired)
}

func TestRedisAuthority_PurposeMismatchRefused(t *testing.T) {
	auth, ch, _ := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "login", map[string]string{"destination": "+1555"})
	require.NoError(t, err)

	// A login challenge must not satisfy any other purpose, even with
	// the right code.
	for _, purpose := range []string{"limit_change", "wallet_unlock", "transaction_confirm"} {
		result, _, err := auth.Verify(ctx, subject, purpose, challengeID, ch.code)
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.True(t, result.Expired)
	}

	// The mismatch consumed nothing; the intended purpose still works.
	result, _, err := auth.Verify(ctx, subject, "login", challengeID, ch.code)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestRedisAuthority_WrongCodeCountsAttempts(t *testing.T) {
	auth, ch, _ := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "login", map[string]string{"destination": "+1555"})
	require.NoError(t, err)

	result, _, err := auth.Verify(ctx, subject, "login", challengeID, "000000")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result, _, err = auth.Verify(ctx, subject, "login", challengeID, "000000")
	require.NoError(t, err)
	assert.Equal(t, 1, result.AttemptsRemaining)

	// Correct code still works while attempts remain.
	result, _, err = auth.Verify(ctx, subject, "login", challengeID, ch.code)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestRedisAuthority_ExhaustionDeletesChallenge(t *testing.T) {
	auth, ch, _ := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "transaction_confirm", map[string]string{
		"destination":    "+1555",
		"transaction_id": "tx-9",
	})
	require.NoError(t, err)

	for i := 2; i >= 0; i-- {
		result, metadata, err := auth.Verify(ctx, subject, "transaction_confirm", challengeID, "000000")
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, i, result.AttemptsRemaining)
		assert.Equal(t, "tx-9", metadata["transaction_id"], "metadata available on every attempt")
	}

	// Challenge gone; even the right code is refused.
	result, _, err := auth.Verify(ctx, subject, "transaction_confirm", challengeID, ch.code)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.True(t, result.Expired)
}

func TestRedisAuthority_TTLExpiry(t *testing.T) {
	auth, ch, s := newTestAuthority(t)
	ctx := context.Background()
	subject := uuid.New()

	challengeID, err := auth.Issue(ctx, subject, "login", map[string]string{"destination": "+1555"})
	require.NoError(t, err)

	s.FastForward(6 * time.Minute)

	result, _, err := auth.Verify(ctx, subject, "login", challengeID, ch.code)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.True(t, result.Expired)
}

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}
