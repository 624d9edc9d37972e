package domain

import (
	"time"

	"github.com/google/uuid"
)

// Merchant is an entry in the merchant directory. Merchants are external
// collaborators here: the ledger only verifies existence and activity
// before a transaction referencing one is created.
type Merchant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MerchantSummary is the display subset attached to transaction results.
type MerchantSummary struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
}

// Summary returns the display subset of the merchant.
func (m *Merchant) Summary() MerchantSummary {
	return MerchantSummary{ID: m.ID, Name: m.Name, Category: m.Category}
}
