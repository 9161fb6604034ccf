package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const guardTTL = 48 * time.Hour

// RedisGuard records charged wallets per day in redis.
type RedisGuard struct {
	rdb *redis.Client
}

func NewRedisGuard(rdb *redis.Client) *RedisGuard {
	return &RedisGuard{rdb: rdb}
}

func guardKey(day, walletID string) string {
	return "storagefee:" + day + ":" + walletID
}

func (g *RedisGuard) Acquire(ctx context.Context, day, walletID string) (bool, error) {
	return g.rdb.SetNX(ctx, guardKey(day, walletID), time.Now().UTC().Format(time.RFC3339), guardTTL).Result()
}

func (g *RedisGuard) Release(ctx context.Context, day, walletID string) {
	if err := g.rdb.Del(context.WithoutCancel(ctx), guardKey(day, walletID)).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"wallet_id": walletID, "day": day, "error": err.Error()}).Warn("Failed to release storage fee guard")
	}
}
