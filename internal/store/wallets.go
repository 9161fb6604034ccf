// Package store holds the gorm-backed stores of the settlement service: the
// local balance cache with its journal, and the file metadata collaborator.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nano_storage/internal/domain"
)

// Wallets is the local balance cache. Balances are never stored negative.
type Wallets struct {
	db *gorm.DB
}

// NewWallets returns a balance cache backed by db
func NewWallets(db *gorm.DB) *Wallets {
	return &Wallets{db: db}
}

// Get returns the cached record of a wallet. ok is false when none exists.
func (w *Wallets) Get(ctx context.Context, walletID string) (record domain.WalletCredit, ok bool, err error) {
	err = w.db.WithContext(ctx).Where("wallet_id = ?", domain.NormalizeWallet(walletID)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.WalletCredit{}, false, nil
	}
	if err != nil {
		return domain.WalletCredit{}, false, err
	}
	return record, true, nil
}

// List returns every cached wallet record
func (w *Wallets) List(ctx context.Context) ([]domain.WalletCredit, error) {
	var records []domain.WalletCredit
	if err := w.db.WithContext(ctx).Order("wallet_id").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Sync overwrites the cached balance with a value read from the remote ledger.
// A journal row is written only when the value changes.
func (w *Wallets) Sync(ctx context.Context, walletID string, balance decimal.Decimal) error {
	walletID = domain.NormalizeWallet(walletID)
	balance = clamp(balance)
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, found, err := get(tx, walletID)
		if err != nil {
			return err
		}
		if found && current.CreditBalance.Equal(balance) {
			return nil // Already in sync
		}
		if err := put(tx, walletID, balance); err != nil {
			return err
		}
		delta := balance.Sub(current.CreditBalance).Abs()
		return journal(tx, walletID, delta, domain.TxSync, domain.SourceRemote, "", balance)
	})
}

// Credit adds amount to the cached balance and journals the deposit. A txRef
// that was already applied fails with domain.ErrDuplicateDeposit.
func (w *Wallets) Credit(ctx context.Context, walletID string, amount decimal.Decimal, txRef string) (decimal.Decimal, error) {
	walletID = domain.NormalizeWallet(walletID)
	var newBalance decimal.Decimal
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if txRef != "" {
			var count int64
			if err := tx.Model(&domain.CreditTransaction{}).Where("tx_ref = ?", txRef).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("tx %s: %w", txRef, domain.ErrDuplicateDeposit)
			}
		}
		current, _, err := get(tx, walletID)
		if err != nil {
			return err
		}
		newBalance = clamp(current.CreditBalance.Add(amount))
		if err := put(tx, walletID, newBalance); err != nil {
			return err
		}
		return journal(tx, walletID, amount, domain.TxDeposit, domain.SourceRemote, txRef, newBalance)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// Debit subtracts amount from the cached balance, clamping at zero, and
// journals the deduction with its source.
func (w *Wallets) Debit(ctx context.Context, walletID string, amount decimal.Decimal, source, txRef string) (decimal.Decimal, error) {
	walletID = domain.NormalizeWallet(walletID)
	var newBalance decimal.Decimal
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, _, err := get(tx, walletID)
		if err != nil {
			return err
		}
		newBalance = clamp(current.CreditBalance.Sub(amount))
		if err := put(tx, walletID, newBalance); err != nil {
			return err
		}
		return journal(tx, walletID, amount, domain.TxDeduction, source, txRef, newBalance)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// HasDeposit reports whether a deposit with txRef was already applied
func (w *Wallets) HasDeposit(ctx context.Context, txRef string) (bool, error) {
	var count int64
	err := w.db.WithContext(ctx).Model(&domain.CreditTransaction{}).
		Where("tx_ref = ? AND type = ?", txRef, domain.TxDeposit).
		Count(&count).Error
	return count > 0, err
}

// Transactions returns one page of a wallet's journal, newest first, with the
// total row count.
func (w *Wallets) Transactions(ctx context.Context, walletID string, page, pageSize int) ([]domain.CreditTransaction, int64, error) {
	query := w.db.WithContext(ctx).Model(&domain.CreditTransaction{}).Where("wallet_id = ?", domain.NormalizeWallet(walletID))
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []domain.CreditTransaction
	err := query.Order("created_at desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&txs).Error
	return txs, total, err
}

func get(tx *gorm.DB, walletID string) (domain.WalletCredit, bool, error) {
	var record domain.WalletCredit
	err := tx.Where("wallet_id = ?", walletID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.WalletCredit{WalletID: walletID, CreditBalance: decimal.Zero}, false, nil
	}
	return record, err == nil, err
}

func put(tx *gorm.DB, walletID string, balance decimal.Decimal) error {
	record := domain.WalletCredit{WalletID: walletID, CreditBalance: balance, LastUpdated: time.Now().UTC()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"credit_balance", "last_updated"}),
	}).Create(&record).Error
}

func journal(tx *gorm.DB, walletID string, amount decimal.Decimal, txType, source, txRef string, balanceAfter decimal.Decimal) error {
	entry := domain.CreditTransaction{
		ID:           uuid.NewString(),
		WalletID:     walletID,
		Amount:       amount,
		Type:         txType,
		Source:       source,
		BalanceAfter: balanceAfter,
	}
	if txRef != "" {
		entry.TxRef = &txRef
	}
	return tx.Create(&entry).Error
}

func clamp(balance decimal.Decimal) decimal.Decimal {
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}
