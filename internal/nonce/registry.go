// Package nonce is the registry of consumed one-shot payment authorizations.
// A nonce is consumed at most once: Record is an exclusive insert and Claim
// serializes concurrent settlements of the same nonce.
package nonce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nano_storage/internal/domain"
	"nano_storage/internal/lockmap"
)

// DefaultRetention is how long payment records are kept before the sweep.
const DefaultRetention = 24 * time.Hour

const defaultClaimTTL = 30 * time.Second

// releaseScript deletes the claim only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Registry stores consumed nonces in the database. The redis client is
// optional; without it claims only serialize within this process.
type Registry struct {
	db       *gorm.DB
	rdb      *redis.Client
	locks    lockmap.Map
	claimTTL time.Duration
	now      func() time.Time
}

// NewRegistry returns a registry backed by db and, if rdb is non-nil, redis
// claims shared with other instances.
func NewRegistry(db *gorm.DB, rdb *redis.Client) *Registry {
	return &Registry{db: db, rdb: rdb, claimTTL: defaultClaimTTL, now: time.Now}
}

func claimKey(nonce string) string {
	return "nonce:lock:" + nonce
}

// Claim takes exclusive ownership of nonce for the duration of one
// settlement. It fails with domain.ErrNonceBusy when another instance holds
// the claim. The returned release must be called exactly once.
func (r *Registry) Claim(ctx context.Context, nonce string) (release func(), err error) {
	unlock := r.locks.Lock(nonce)
	if r.rdb == nil {
		return unlock, nil
	}

	token := uuid.NewString()
	key := claimKey(nonce)
	ok, err := r.rdb.SetNX(ctx, key, token, r.claimTTL).Result()
	if err != nil {
		// Record stays exclusive in the database; only cross-instance
		// serialization is lost.
		logrus.WithFields(logrus.Fields{"nonce": nonce, "error": err.Error()}).Warn("Nonce claim skipped, redis unavailable")
		return unlock, nil
	}
	if !ok {
		unlock()
		return nil, fmt.Errorf("nonce %s: %w", nonce, domain.ErrNonceBusy)
	}
	return func() {
		if err := releaseScript.Run(context.WithoutCancel(ctx), r.rdb, []string{key}, token).Err(); err != nil {
			logrus.WithFields(logrus.Fields{"nonce": nonce, "error": err.Error()}).Warn("Failed to release nonce claim")
		}
		unlock()
	}, nil
}

// IsConsumed reports whether nonce was ever recorded.
func (r *Registry) IsConsumed(ctx context.Context, nonce string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ConsumedNonce{}).Where("nonce = ?", nonce).Count(&count).Error
	return count > 0, err
}

// Record marks the nonce of record as consumed and stores the payment. A
// record carrying a payment transaction also marks the transaction, so it
// cannot pay for a second download under a fresh nonce. It must only be called
// after the payment was verified. A nonce or transaction that is already
// consumed fails with domain.ErrNonceConsumed and leaves nothing written.
func (r *Registry) Record(ctx context.Context, record domain.PaymentRecord) error {
	if record.UsedAt.IsZero() {
		record.UsedAt = r.now().UTC()
	}
	record.WalletID = domain.NormalizeWallet(record.WalletID)
	keys := []string{record.Nonce}
	if record.TxHash != "" {
		record.TxHash = strings.ToLower(strings.TrimSpace(record.TxHash))
		keys = append(keys, domain.PaymentTxKey(record.TxHash))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			marker := domain.ConsumedNonce{Nonce: key, ConsumedAt: record.UsedAt}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%s: %w", key, domain.ErrNonceConsumed)
			}
		}
		return tx.Create(&record).Error
	})
}

// SweepExpired deletes payment records older than retention. Consumed-nonce
// markers are kept, so a swept nonce still cannot be replayed.
func (r *Registry) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := r.now().UTC().Add(-retention)
	res := r.db.WithContext(ctx).Where("used_at < ?", cutoff).Delete(&domain.PaymentRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	logrus.WithFields(logrus.Fields{"deleted": res.RowsAffected, "cutoff": cutoff.Format(time.RFC3339)}).Info("Payment records swept")
	return res.RowsAffected, nil
}
