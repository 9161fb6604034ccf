package domain

import "github.com/shopspring/decimal"

// Credit transaction types
const (
	TxDeposit   = "deposit"   // Credit added after a confirmed on-chain deposit
	TxDeduction = "deduction" // Download or storage charge
	TxSync      = "sync"      // Balance overwritten from the remote ledger
)

// Sources of a credit transaction
const (
	SourceRemote = "remote" // Mirrors a confirmed remote ledger change
	SourceLocal  = "local"  // Local-only fallback, not yet reflected remotely
)

// CreditTransaction Model
//
// Journal row written in the same database transaction as the balance change
// it describes.
type CreditTransaction struct {
	ID           string          `gorm:"primaryKey;size:36"`                  // UUID
	WalletID     string          `gorm:"index;size:64;not null"`              // Wallet address
	Amount       decimal.Decimal `gorm:"type:decimal(36,18);not null"`        // Amount moved
	Type         string          `gorm:"size:16;not null"`                    // deposit, deduction, sync
	Source       string          `gorm:"size:16;not null"`                    // remote or local
	TxRef        *string         `gorm:"uniqueIndex;size:80"`                 // On-chain transaction hash, when known
	BalanceAfter decimal.Decimal `gorm:"type:decimal(36,18);not null"`        // Cached balance after the change
	CreatedAt    int64           `gorm:"autoCreateTime:milli"`                // Timestamp of creation in milliseconds
}
