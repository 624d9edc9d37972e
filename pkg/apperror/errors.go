package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Wallet (WAL) ----

func ErrWalletNotFound() *AppError {
	return New("WAL_001", "Wallet not found", http.StatusNotFound)
}

func ErrWalletLocked(reason string) *AppError {
	msg := "Wallet is locked"
	if reason != "" {
		msg = fmt.Sprintf("Wallet is locked: %s", reason)
	}
	return New("WAL_002", msg, http.StatusLocked)
}

func ErrWalletFrozen() *AppError {
	return New("WAL_003", "Wallet is frozen; contact support", http.StatusLocked)
}

// ---- Payment Business Logic (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest)
}

func ErrDailyLimitExceeded(remaining string) *AppError {
	return New("PAY_003", fmt.Sprintf("Daily spending limit exceeded; %s remaining today", remaining), http.StatusUnprocessableEntity)
}

func ErrDuplicateIdempotencyKey() *AppError {
	return New("PAY_004", "Duplicate transaction", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_005", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Transaction State (TXN) ----

func ErrTransactionNotFound() *AppError {
	return New("TXN_001", "Transaction not found", http.StatusNotFound)
}

func ErrTransactionNotPending(status string) *AppError {
	return New("TXN_002", fmt.Sprintf("Transaction is %s and can no longer be modified", status), http.StatusConflict)
}

// ---- One-Time Passwords (OTP) ----

func ErrInvalidOTP(attemptsRemaining int) *AppError {
	return New("OTP_001", fmt.Sprintf("Invalid verification code; %d attempts remaining", attemptsRemaining), http.StatusBadRequest)
}

func ErrOTPExpired() *AppError {
	return New("OTP_002", "Verification code expired or not found", http.StatusBadRequest)
}

func ErrOTPAttemptsExhausted() *AppError {
	return New("OTP_003", "Too many failed verification attempts", http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrServiceUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Service temporarily unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}
