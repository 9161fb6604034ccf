// Package credit is the authoritative-with-fallback balance service. It is
// the only place that decides to serve a balance or a deduction from the
// local cache when the remote ledger cannot be used.
package credit

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nano_storage/internal/domain"
	"nano_storage/internal/lockmap"
	"nano_storage/internal/metrics"
	"nano_storage/internal/pricing"
)

// RemoteLedger is the external contract holding the balance of record.
type RemoteLedger interface {
	ReadBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	AuthorizeDeduction(ctx context.Context, walletID string, amount decimal.Decimal) (txRef string, err error)
}

// BalanceCache is the durable last-known balance per wallet.
type BalanceCache interface {
	Get(ctx context.Context, walletID string) (domain.WalletCredit, bool, error)
	Sync(ctx context.Context, walletID string, balance decimal.Decimal) error
	Credit(ctx context.Context, walletID string, amount decimal.Decimal, txRef string) (decimal.Decimal, error)
	Debit(ctx context.Context, walletID string, amount decimal.Decimal, source, txRef string) (decimal.Decimal, error)
}

// Ledger combines the remote ledger with the local cache.
type Ledger struct {
	remote        RemoteLedger
	cache         BalanceCache
	tokenDecimals int32
	wallets       lockmap.Map
}

// NewLedger returns a ledger over remote and cache. tokenDecimals is the
// precision of raw on-chain amounts passed to Deposit.
func NewLedger(remote RemoteLedger, cache BalanceCache, tokenDecimals int32) *Ledger {
	return &Ledger{remote: remote, cache: cache, tokenDecimals: tokenDecimals}
}

// GetBalance returns the remote balance when reachable, writing non-zero
// values through to the cache. On any remote error it returns the cached
// balance, or zero when none is cached.
func (l *Ledger) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	walletID = domain.NormalizeWallet(walletID)

	balance, err := l.remote.ReadBalance(ctx, walletID)
	if err == nil {
		// A zero read can race a just-confirmed deposit; keep the cache.
		if balance.IsPositive() {
			if cerr := l.cache.Sync(ctx, walletID, balance); cerr != nil {
				logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": cerr.Error()}).Warn("Failed to write balance through to cache")
			}
		}
		return balance, nil
	}

	kind := domain.RemoteErrorKind(err)
	fields := logrus.Fields{"wallet_id": walletID, "reason": kind.String()}
	if kind == domain.RemoteUnavailable {
		logrus.WithFields(fields).Debug("Remote balance unavailable, using cached balance")
	} else {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Remote balance read failed, using cached balance")
	}
	metrics.LedgerFallbacks.WithLabelValues("get_balance", kind.String()).Inc()
	return l.cachedBalance(ctx, walletID)
}

// HasSufficient reports whether the current balance covers amount.
func (l *Ledger) HasSufficient(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	balance, err := l.GetBalance(ctx, walletID)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// Deposit adds a confirmed on-chain deposit of raw smallest-denomination units
// to the cache. Callers confirm the deposit first; a txRef already applied
// fails with domain.ErrDuplicateDeposit.
func (l *Ledger) Deposit(ctx context.Context, walletID string, raw *big.Int, txRef string) (decimal.Decimal, error) {
	walletID = domain.NormalizeWallet(walletID)
	amount := pricing.FromUnits(raw, l.tokenDecimals)

	unlock := l.wallets.Lock(walletID)
	defer unlock()

	balance, err := l.cache.Credit(ctx, walletID, amount, txRef)
	if err != nil {
		return decimal.Zero, err
	}
	logrus.WithFields(logrus.Fields{
		"wallet_id":   walletID,
		"amount":      amount.String(),
		"tx_ref":      txRef,
		"new_balance": balance.String(),
	}).Info("Credit deposited")
	return balance, nil
}

// Deduct charges amount to the wallet. The remote ledger is charged first and
// the cache follows. Any remote failure falls back to charging the cache only.
// Rejections are logged as errors, the other kinds as warnings.
func (l *Ledger) Deduct(ctx context.Context, walletID string, amount decimal.Decimal) (decimal.Decimal, error) {
	walletID = domain.NormalizeWallet(walletID)

	unlock := l.wallets.Lock(walletID)
	defer unlock()

	if !amount.IsPositive() {
		return l.cachedBalance(ctx, walletID)
	}

	txRef, rerr := l.remote.AuthorizeDeduction(ctx, walletID, amount)
	kind := domain.RemoteErrorKind(rerr)
	if kind == domain.RemoteOK {
		balance, err := l.cache.Debit(ctx, walletID, amount, domain.SourceRemote, txRef)
		if err != nil {
			return decimal.Zero, err
		}
		logrus.WithFields(logrus.Fields{
			"wallet_id":   walletID,
			"amount":      amount.String(),
			"tx_ref":      txRef,
			"new_balance": balance.String(),
		}).Info("Credit deducted (remote)")
		return l.resync(ctx, walletID, balance), nil
	}

	balance, err := l.cache.Debit(ctx, walletID, amount, domain.SourceLocal, "")
	if err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerFallbacks.WithLabelValues("deduct", kind.String()).Inc()
	entry := logrus.WithFields(logrus.Fields{
		"wallet_id":   walletID,
		"amount":      amount.String(),
		"reason":      kind.String(),
		"error":       rerr.Error(),
		"new_balance": balance.String(),
	})
	switch kind {
	case domain.RemoteUnavailable, domain.RemoteInsufficientBalance:
		entry.Warn("Credit deducted (local fallback)")
	default:
		entry.Error("Remote deduction rejected, credit deducted locally")
	}
	return balance, nil
}

// resync re-reads the remote balance after a remote deduction and stores it.
// Failures keep the locally computed balance.
func (l *Ledger) resync(ctx context.Context, walletID string, local decimal.Decimal) decimal.Decimal {
	remote, err := l.remote.ReadBalance(ctx, walletID)
	if err != nil {
		if domain.RemoteErrorKind(err) != domain.RemoteUnavailable {
			logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": err.Error()}).Warn("Failed to sync balance after deduction")
		}
		return local
	}
	if err := l.cache.Sync(ctx, walletID, remote); err != nil {
		logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": err.Error()}).Warn("Failed to store synced balance")
		return local
	}
	return remote
}

func (l *Ledger) cachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	record, ok, err := l.cache.Get(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	return record.CreditBalance, nil
}
