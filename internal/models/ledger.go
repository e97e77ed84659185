package models

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerEntryType classifies a balance mutation
type LedgerEntryType string

const (
	LedgerDeposit       LedgerEntryType = "deposit"
	LedgerMarginHold    LedgerEntryType = "margin_hold"
	LedgerMarginRelease LedgerEntryType = "margin_release"
	LedgerRealizedPnL   LedgerEntryType = "realized_pnl"
	LedgerCommission    LedgerEntryType = "commission"
)

// LedgerEntry is an append-only audit record of every balance mutation.
// Entries are written inside the same transaction as the mutation itself.
type LedgerEntry struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	AccountID    uint            `gorm:"index;not null" json:"account_id"`
	Type         LedgerEntryType `gorm:"size:20;not null;index" json:"type"`
	Amount       float64         `gorm:"type:decimal(20,8);not null" json:"amount"`
	BalanceAfter float64         `gorm:"type:decimal(20,8);not null" json:"balance_after"`
	Reference    string          `gorm:"size:120;index" json:"reference"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`

	// Relations
	Account Account `gorm:"foreignKey:AccountID" json:"-"`
}

// TableName specifies the table name for LedgerEntry model
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// IdempotencyRecord stores the outcome of a keyed mutation so duplicate
// invocations replay the original result instead of mutating again.
// The unique index on Key is what enforces at-most-once application.
type IdempotencyRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Key       string         `gorm:"uniqueIndex;size:120;not null" json:"key"`
	Scope     string         `gorm:"size:50;not null" json:"scope"`
	Result    datatypes.JSON `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name for IdempotencyRecord model
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
