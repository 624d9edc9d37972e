package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	codeDigits = 6
	metaPrefix = "meta:"
)

// RedisAuthority implements ports.OTPAuthority. Challenges live in
// Redis hashes under a TTL; codes are stored argon2id-hashed and
// consumed on success or attempt exhaustion.
type RedisAuthority struct {
	client      *goredis.Client
	hasher      ports.HashService
	channel     ports.NotificationChannel
	codeTTL     time.Duration
	maxAttempts int
	log         zerolog.Logger
}

// NewRedisAuthority creates a Redis-backed OTP authority.
func NewRedisAuthority(
	client *goredis.Client,
	hasher ports.HashService,
	channel ports.NotificationChannel,
	codeTTL time.Duration,
	maxAttempts int,
	log zerolog.Logger,
) *RedisAuthority {
	return &RedisAuthority{
		client:      client,
		hasher:      hasher,
		channel:     channel,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func challengeKey(subject uuid.UUID, challengeID string) string {
	return "otp:" + subject.String() + ":" + challengeID
}

// Issue creates a challenge, stores the hashed code, and dispatches it
// to metadata["destination"] over the notification channel.
func (a *RedisAuthority) Issue(ctx context.Context, subject uuid.UUID, purpose string, metadata map[string]string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}

	codeHash, err := a.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("hash otp code: %w", err)
	}

	challengeID := uuid.NewString()
	key := challengeKey(subject, challengeID)

	fields := map[string]any{
		"purpose":   purpose,
		"code_hash": codeHash,
		"attempts":  0,
	}
	for k, v := range metadata {
		fields[metaPrefix+k] = v
	}

	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, a.codeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store otp challenge: %w", err)
	}

	if err := a.channel.Send(ctx, metadata["destination"], code, purpose); err != nil {
		// Undo the challenge so a failed delivery cannot be guessed at.
		a.client.Del(ctx, key)
		return "", fmt.Errorf("deliver otp code: %w", err)
	}

	a.log.Info().
		Str("subject", subject.String()).
		Str("challenge_id", challengeID).
		Str("purpose", purpose).
		Msg("OTP challenge issued")

	return challengeID, nil
}

// Verify checks a submitted code against the challenge. A challenge
// issued for a different purpose is treated as absent, so a challenge
// can never authorize an operation it was not issued for. The
// challenge is deleted on success and on attempt exhaustion; challenge
// metadata is returned whenever the challenge existed.
func (a *RedisAuthority) Verify(ctx context.Context, subject uuid.UUID, purpose, challengeID, code string) (*ports.OTPVerifyResult, map[string]string, error) {
	key := challengeKey(subject, challengeID)

	fields, err := a.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load otp challenge: %w", err)
	}
	if len(fields) == 0 {
		return &ports.OTPVerifyResult{Expired: true}, nil, nil
	}
	if fields["purpose"] != purpose {
		a.log.Warn().
			Str("subject", subject.String()).
			Str("challenge_id", challengeID).
			Str("expected_purpose", purpose).
			Str("issued_purpose", fields["purpose"]).
			Msg("OTP challenge purpose mismatch")
		return &ports.OTPVerifyResult{Expired: true}, nil, nil
	}

	metadata := make(map[string]string)
	for k, v := range fields {
		if strings.HasPrefix(k, metaPrefix) {
			metadata[strings.TrimPrefix(k, metaPrefix)] = v
		}
	}

	ok, err := a.hasher.Verify(code, fields["code_hash"])
	if err != nil {
		return nil, nil, fmt.Errorf("verify otp code: %w", err)
	}

	if ok {
		a.client.Del(ctx, key)
		return &ports.OTPVerifyResult{OK: true}, metadata, nil
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	attempts++
	remaining := a.maxAttempts - attempts
	if remaining <= 0 {
		a.client.Del(ctx, key)
		a.log.Warn().
			Str("subject", subject.String()).
			Str("challenge_id", challengeID).
			Msg("OTP attempts exhausted")
		return &ports.OTPVerifyResult{AttemptsRemaining: 0}, metadata, nil
	}

	if err := a.client.HIncrBy(ctx, key, "attempts", 1).Err(); err != nil {
		return nil, nil, fmt.Errorf("record otp attempt: %w", err)
	}
	return &ports.OTPVerifyResult{AttemptsRemaining: remaining}, metadata, nil
}

// generateCode returns a uniformly random zero-padded numeric code.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
