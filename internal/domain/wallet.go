package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WalletCredit Model
//
// Last-known prepaid credit of a wallet. The remote contract is the source of
// truth; this row is written by deposits, deductions and balance syncs and read
// as a fallback when the remote ledger cannot be reached.
type WalletCredit struct {
	WalletID      string          `gorm:"primaryKey;size:64" json:"walletId"`                 // Lower-case wallet address
	CreditBalance decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"creditBalance"` // Never negative
	LastUpdated   time.Time       `gorm:"not null" json:"lastUpdated"`                       // Last mutation
}

// NormalizeWallet lower-cases and trims a wallet address so every store and
// comparison uses the same key.
func NormalizeWallet(walletID string) string {
	return strings.ToLower(strings.TrimSpace(walletID))
}
