// Package app wires the settlement service from configuration. Both the HTTP
// server and settlectl build on it.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nano_storage/internal/blob"
	"nano_storage/internal/chain"
	"nano_storage/internal/config"
	"nano_storage/internal/credit"
	"nano_storage/internal/db"
	"nano_storage/internal/nonce"
	"nano_storage/internal/payment"
	"nano_storage/internal/scheduler"
	"nano_storage/internal/store"
)

// App holds the constructed components.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client // nil without REDIS_ADDR
	Chain     *chain.Client // nil without RPC_URL
	Wallets   *store.Wallets
	Files     *store.Files
	Blobs     blob.Store
	Ledger    *credit.Ledger
	Nonces    *nonce.Registry
	Resolver  *payment.Resolver
	Scheduler *scheduler.Scheduler
}

// New connects to MySQL, redis and the chain and builds every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	gdb, err := db.Open(cfg.DSN(), cfg.IsProd)
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}
	a := &App{Config: cfg, DB: gdb}

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
	}

	var remote credit.RemoteLedger = chain.Offline{}
	var txs payment.TxVerifier
	if cfg.RPCURL != "" {
		a.Chain, err = chain.Dial(ctx, chain.Config{
			RPCURL:            cfg.RPCURL,
			ChainID:           cfg.ChainID,
			StorageCreditPool: cfg.StorageCreditPool,
			PaymentContract:   cfg.PaymentContract,
			OwnerPrivateKey:   cfg.OwnerPrivateKey,
			TokenDecimals:     cfg.TokenDecimals,
			Timeout:           cfg.RemoteTimeout,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		remote, txs = a.Chain, a.Chain
	} else {
		logrus.Warn("RPC_URL not set, serving balances from the local cache only")
	}

	a.Blobs, err = openBlobs(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Wallets = store.NewWallets(gdb)
	a.Files = store.NewFiles(gdb)
	a.Ledger = credit.NewLedger(remote, a.Wallets, cfg.TokenDecimals)
	a.Nonces = nonce.NewRegistry(gdb, a.Redis)
	a.Resolver = payment.NewResolver(payment.Config{
		Rates:           cfg.Rates(),
		ChainID:         cfg.ChainID,
		PaymentContract: cfg.PaymentContract,
		TokenAddress:    cfg.PaymentToken,
		TokenDecimals:   cfg.TokenDecimals,
		SignatureWindow: cfg.SignatureWindow,
	}, a.Ledger, a.Nonces, txs)

	var guard scheduler.RunGuard
	if a.Redis != nil {
		guard = scheduler.NewRedisGuard(a.Redis)
	}
	a.Scheduler = scheduler.New(a.Files, a.Wallets, a.Ledger, a.Blobs, cfg.Rates(), guard, cfg.GracePeriod)
	return a, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Prefix:       cfg.S3Prefix,
		})
	case "", "local":
		return blob.NewLocal(cfg.BlobDir)
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

// Close releases connections.
func (a *App) Close() {
	if a.Chain != nil {
		a.Chain.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
