package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord Model
//
// One consumed one-shot payment authorization. Rows are removed by the
// retention sweep; replay protection relies on ConsumedNonce instead.
type PaymentRecord struct {
	Nonce    string          `gorm:"primaryKey;size:128" json:"nonce"`           // Client nonce
	WalletID string          `gorm:"index;size:64;not null" json:"walletId"`     // Paying wallet
	FileID   string          `gorm:"size:64;not null" json:"fileId"`             // File paid for
	Amount   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"` // Fee paid
	TxHash   string          `gorm:"index;size:80" json:"txHash,omitempty"`      // Payment transaction, empty for signed payments
	UsedAt   time.Time       `gorm:"index;not null" json:"usedAt"`               // Settlement time
}

// ConsumedNonce Model
//
// Permanent marker for a nonce or payment transaction that has been used.
// Never swept.
type ConsumedNonce struct {
	Nonce      string    `gorm:"primaryKey;size:128"` // Nonce, or PaymentTxKey of a transaction
	ConsumedAt time.Time `gorm:"not null"`            // First use
}

// PaymentTxKey is the ConsumedNonce key marking a payment transaction as used.
func PaymentTxKey(txHash string) string {
	return "tx:" + strings.ToLower(strings.TrimSpace(txHash))
}
