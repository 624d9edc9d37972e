package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionInitiate        AuditAction = "TRANSACTION_INITIATE"
	AuditActionConfirm         AuditAction = "TRANSACTION_CONFIRM"
	AuditActionCancel          AuditAction = "TRANSACTION_CANCEL"
	AuditActionSync            AuditAction = "TRANSACTION_SYNC"
	AuditActionWalletLock      AuditAction = "WALLET_LOCK"
	AuditActionWalletUnlock    AuditAction = "WALLET_UNLOCK"
	AuditActionEmergencyFreeze AuditAction = "WALLET_EMERGENCY_FREEZE"
	AuditActionLimitChange     AuditAction = "WALLET_LIMIT_CHANGE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time   `json:"created_at"`
}
