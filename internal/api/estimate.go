package api

import (
	"context"  // Context for store and Redis operations
	"math"     // Day rounding
	"net/http" // HTTP status codes
	"time"     // Expiration math

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Fee amounts
	"github.com/sirupsen/logrus"    // Logging library

	"nano_storage/internal/domain"  // File metadata
	"nano_storage/internal/pricing" // Fee calculator
	"nano_storage/internal/utils"   // Cache helpers
)

// Storage statuses
const (
	StatusFree    = "free_storage"
	StatusPrepaid = "prepaid_storage"
	StatusLocked  = "locked"
	StatusExpired = "expired"
)

// WalletFiles lists a wallet's files
type WalletFiles interface {
	GetByWallet(ctx context.Context, walletID string) ([]domain.FileEntry, error)
}

// FileEstimate is the storage fee outlook of one file
type FileEstimate struct {
	FileID                string          `json:"fileId"`
	FileName              string          `json:"fileName"`
	FileSize              int64           `json:"fileSize"`
	UploadDate            time.Time       `json:"uploadDate"`
	ExpirationDate        time.Time       `json:"expirationDate"`
	IsPrepaidLinked       bool            `json:"isPrepaidLinked"`
	StorageStatus         string          `json:"storageStatus"`
	DailyStorageFee       decimal.Decimal `json:"dailyStorageFee"`
	MonthlyStorageFee     decimal.Decimal `json:"monthlyStorageFee"`
	EstimatedDeletionDate string          `json:"estimatedDeletionDate,omitempty"`
	DaysUntilDeletion     *int64          `json:"daysUntilDeletion,omitempty"`
}

// EstimateSummary totals a wallet's storage fees
type EstimateSummary struct {
	TotalDailyFee   decimal.Decimal `json:"totalDailyFee"`
	TotalMonthlyFee decimal.Decimal `json:"totalMonthlyFee"`
	DaysCovered     *int64          `json:"daysCovered"` // Null when no fee is due
	NeedsDeposit    bool            `json:"needsDeposit"`
}

// Estimate is the storage fee estimate of a wallet
type Estimate struct {
	WalletAddress string          `json:"walletAddress"`
	CreditBalance decimal.Decimal `json:"creditBalance"`
	Files         []FileEstimate  `json:"files"`
	Summary       EstimateSummary `json:"summary"`
	Cached        bool            `json:"cached"`
}

// BuildEstimate computes the estimate of walletID's files at now
func BuildEstimate(walletID string, balance decimal.Decimal, files []domain.FileEntry, rates pricing.Rates, now time.Time) Estimate {
	est := Estimate{WalletAddress: walletID, CreditBalance: balance, Files: make([]FileEstimate, 0, len(files))}
	total, monthly := decimal.Zero, decimal.Zero
	for _, f := range files {
		daily := rates.DailyStorageFee(f.FileSizeBytes)
		item := FileEstimate{
			FileID:            f.FileID,
			FileName:          f.FileName,
			FileSize:          f.FileSizeBytes,
			UploadDate:        f.UploadDate,
			ExpirationDate:    f.ExpirationDate,
			IsPrepaidLinked:   f.IsPrepaidLinked,
			DailyStorageFee:   daily,
			MonthlyStorageFee: rates.MonthlyStorageFee(f.FileSizeBytes),
		}
		switch {
		case f.DownloadLocked:
			item.StorageStatus = StatusLocked
		case f.IsPrepaidLinked && balance.IsPositive():
			item.StorageStatus = StatusPrepaid
		case f.ExpirationDate.Before(now):
			item.StorageStatus = StatusExpired
		default:
			item.StorageStatus = StatusFree
			days := int64(math.Ceil(f.ExpirationDate.Sub(now).Hours() / 24))
			item.EstimatedDeletionDate = f.ExpirationDate.UTC().Format("2006-01-02")
			item.DaysUntilDeletion = &days
		}
		total = total.Add(daily)
		monthly = monthly.Add(item.MonthlyStorageFee)
		est.Files = append(est.Files, item)
	}
	est.Summary = EstimateSummary{TotalDailyFee: total, TotalMonthlyFee: monthly}
	days, unbounded := pricing.DaysCovered(balance, total)
	if !unbounded {
		est.Summary.DaysCovered = &days
	}
	est.Summary.NeedsDeposit = balance.IsZero() || (!unbounded && days < 3)
	return est
}

// StorageFeeEstimateHandler returns per-file storage fees, totals and how
// long the balance lasts. Responses are cached for utils.EstimateTTL.
func StorageFeeEstimateHandler(files WalletFiles, ledger BalanceReader, rates pricing.Rates, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletID := domain.NormalizeWallet(c.Query("walletAddress")) // Wallet from the query
		if walletID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "walletAddress query parameter is required"})
			return
		}
		ctx := c.Request.Context()
		cacheKey := utils.EstimateCacheKey(walletID)           // Cache key for the estimate
		var est Estimate                                       // Estimate to return
		found, err := utils.GetCache(ctx, rdb, cacheKey, &est) // Try to get from cache
		// If found in cache, return it
		if err == nil && found {
			est.Cached = true
			c.JSON(http.StatusOK, est)
			return
		}

		entries, err := files.GetByWallet(ctx, walletID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": err.Error()}).Error("Failed to list files")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to estimate storage fee"})
			return
		}
		balance, err := ledger.GetBalance(ctx, walletID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": err.Error()}).Error("Failed to get balance")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to estimate storage fee"})
			return
		}
		est = BuildEstimate(walletID, balance, entries, rates, time.Now().UTC())
		_ = utils.SetCache(ctx, rdb, cacheKey, est, utils.EstimateTTL) // Cache the estimate
		c.JSON(http.StatusOK, est)
	}
}
