package service

import (
	"context"
	"fmt"

	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// userNamespace derives stable user IDs from phone numbers, so the same
// phone always maps to the same wallet.
var userNamespace = uuid.MustParse("7a1c5fc4-2c5b-4e0e-9d7d-0b6a3a2f4e19")

// UserIDForPhone returns the deterministic user ID for a phone number.
func UserIDForPhone(phone string) uuid.UUID {
	return uuid.NewSHA1(userNamespace, []byte(phone))
}

// AuthServiceImpl implements ports.AuthService: passwordless login via
// phone-number OTP.
type AuthServiceImpl struct {
	otp    ports.OTPAuthority
	tokens ports.TokenService
	log    zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(otp ports.OTPAuthority, tokens ports.TokenService, log zerolog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{otp: otp, tokens: tokens, log: log}
}

// RequestLogin issues a login OTP to the phone number.
func (s *AuthServiceImpl) RequestLogin(ctx context.Context, phone string) (string, error) {
	userID := UserIDForPhone(phone)

	challengeID, err := s.otp.Issue(ctx, userID, PurposeLogin, map[string]string{
		"destination": phone,
		"phone":       phone,
	})
	if err != nil {
		return "", apperror.ErrServiceUnavailable(fmt.Errorf("issue login challenge: %w", err))
	}

	s.log.Info().Str("user_id", userID.String()).Msg("login challenge issued")
	return challengeID, nil
}

// VerifyLogin checks the OTP and returns a signed access token.
func (s *AuthServiceImpl) VerifyLogin(ctx context.Context, phone, challengeID, code string) (string, error) {
	userID := UserIDForPhone(phone)

	verify, metadata, err := s.otp.Verify(ctx, userID, PurposeLogin, challengeID, code)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("verify otp: %w", err))
	}
	if !verify.OK {
		if verify.Expired {
			return "", apperror.ErrOTPExpired()
		}
		if verify.AttemptsRemaining <= 0 {
			return "", apperror.ErrOTPAttemptsExhausted()
		}
		return "", apperror.ErrInvalidOTP(verify.AttemptsRemaining)
	}
	if metadata["phone"] != phone {
		// Challenge was issued for a different number.
		return "", apperror.ErrOTPExpired()
	}

	token, err := s.tokens.Generate(userID, phone)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().Str("user_id", userID.String()).Msg("login verified")
	return token, nil
}
