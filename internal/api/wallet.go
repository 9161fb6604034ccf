package api

import (
	"context"  // Context for store and Redis operations
	"errors"   // Error matching
	"math/big" // Raw token amounts
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Credit amounts
	"github.com/sirupsen/logrus"    // Logging library

	"nano_storage/internal/chain"   // Deposit events
	"nano_storage/internal/domain"  // Domain models and errors
	"nano_storage/internal/pricing" // Unit conversion
	"nano_storage/internal/utils"   // Cache helpers
)

// BalanceReader reads a wallet's credit balance
type BalanceReader interface {
	GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// JournalReader pages through a wallet's credit journal
type JournalReader interface {
	Transactions(ctx context.Context, walletID string, page, pageSize int) ([]domain.CreditTransaction, int64, error)
}

// Depositor applies confirmed deposits
type Depositor interface {
	Deposit(ctx context.Context, walletID string, raw *big.Int, txRef string) (decimal.Decimal, error)
}

// DepositSource confirms deposit transactions on chain
type DepositSource interface {
	DepositFromTx(ctx context.Context, txHash string) (chain.DepositEvent, error)
}

// PrepaidLinker moves a wallet's files back to prepaid billing
type PrepaidLinker interface {
	LinkPrepaid(ctx context.Context, walletID string) (int64, error)
}

// GetBalanceHandler returns the credit balance of a wallet
func GetBalanceHandler(ledger BalanceReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletID := domain.NormalizeWallet(c.Param("walletId")) // Wallet from the route
		balance, err := ledger.GetBalance(c.Request.Context(), walletID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"wallet_id": walletID,    // Wallet
				"error":     err.Error(), // Error message
			}).Error("Failed to get balance") // Log failure
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get balance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"walletId": walletID, "creditBalance": balance})
	}
}

// GetTransactionHistoryHandler returns one page of a wallet's credit journal
func GetTransactionHistoryHandler(journal JournalReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletID := domain.NormalizeWallet(c.Param("walletId")) // Wallet from the route
		page := 1                                               // Default page
		pageSize := 20                                          // Default page size
		// If page exists in query
		if p := c.Query("page"); p != "" {
			// Convert page to integer
			if v, err := strconv.Atoi(p); err == nil && v > 0 {
				page = v // Set page if valid
			}
		}
		// If page_size exists in query
		if ps := c.Query("page_size"); ps != "" {
			// Convert page_size to integer
			if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
				pageSize = v // Set page size if valid
			}
		}
		transactions, total, err := journal.Transactions(c.Request.Context(), walletID, page, pageSize)
		if err != nil {
			// If fetching fails, return error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
			return
		}
		// Calculate total pages
		totalPages := (int(total) + pageSize - 1) / pageSize
		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions, // List of transactions
			"page":         page,         // Current page
			"page_size":    pageSize,     // Page size
			"total":        total,        // Total transactions
			"total_pages":  totalPages,   // Total pages
		})
	}
}

// DepositRequest represents a deposit confirmation request
type DepositRequest struct {
	WalletID string           `json:"walletId" binding:"required"` // Depositing wallet
	TxHash   string           `json:"txHash" binding:"required"`   // Deposit transaction
	Amount   *decimal.Decimal `json:"amount"`                      // Token amount, used when the chain cannot be read
}

// DepositHandler credits a confirmed on-chain deposit. source may be nil, in
// which case the request must carry the amount.
func DepositHandler(ledger Depositor, source DepositSource, files PrepaidLinker, rdb *redis.Client, tokenDecimals int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DepositRequest // Bind JSON request to struct
		// Validate request
		if err := c.ShouldBindJSON(&req); err != nil {
			// If invalid, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "walletId and txHash are required"})
			return
		}
		if req.Amount != nil && !req.Amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
		ctx := c.Request.Context()                       // Request context
		walletID := domain.NormalizeWallet(req.WalletID) // Normalized wallet

		raw, via, err := confirmDeposit(ctx, source, walletID, req, tokenDecimals)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		applyDeposit(c, ledger, files, rdb, walletID, raw, req.TxHash, via)
	}
}

// confirmDeposit determines the raw amount of a deposit, preferring the
// on-chain event over the amount supplied by the client
func confirmDeposit(ctx context.Context, source DepositSource, walletID string, req DepositRequest, tokenDecimals int32) (*big.Int, string, error) {
	if source != nil {
		event, err := source.DepositFromTx(ctx, req.TxHash)
		switch {
		case err == nil:
			if event.WalletID != walletID {
				return nil, "", errors.New("wallet does not match the deposit event")
			}
			return event.Amount, "chain", nil
		case domain.RemoteErrorKind(err) == domain.RemoteUnavailable && req.Amount != nil:
			logrus.WithFields(logrus.Fields{
				"wallet_id": walletID,    // Wallet
				"tx_hash":   req.TxHash,  // Deposit transaction
				"error":     err.Error(), // Error message
			}).Warn("Chain unavailable, using client amount") // Log fallback
		case domain.RemoteErrorKind(err) == domain.RemoteUnavailable:
			return nil, "", errors.New("chain unavailable, retry with amount")
		default:
			return nil, "", err
		}
	}
	if req.Amount == nil {
		return nil, "", errors.New("amount is required")
	}
	return pricing.ToUnits(*req.Amount, tokenDecimals), "client", nil
}

// applyDeposit credits raw units, relinks the wallet's files and invalidates
// its cached estimate
func applyDeposit(c *gin.Context, ledger Depositor, files PrepaidLinker, rdb *redis.Client, walletID string, raw *big.Int, txHash, via string) {
	ctx := c.Request.Context()
	balance, err := ledger.Deposit(ctx, walletID, raw, txHash)
	if errors.Is(err, domain.ErrDuplicateDeposit) {
		c.JSON(http.StatusConflict, gin.H{"error": "Deposit already processed", "txId": txHash})
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"wallet_id": walletID,    // Wallet
			"tx_hash":   txHash,      // Deposit transaction
			"error":     err.Error(), // Error message
		}).Error("Deposit failed") // Log deposit failure
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Deposit failed"})
		return
	}
	linked, err := files.LinkPrepaid(ctx, walletID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"wallet_id": walletID, "error": err.Error()}).Error("Failed to relink files")
	}
	_ = utils.DeleteCache(ctx, rdb, utils.EstimateCacheKey(walletID)) // Invalidate estimate cache
	// Log successful deposit
	logrus.WithFields(logrus.Fields{
		"wallet_id":    walletID,         // Wallet
		"raw_amount":   raw.String(),     // Token units
		"tx_hash":      txHash,           // Deposit transaction
		"source":       via,              // How the amount was confirmed
		"linked_files": linked,           // Files back on prepaid billing
		"balance":      balance.String(), // New balance
	}).Info("Deposit transaction")
	c.JSON(http.StatusOK, gin.H{"txId": txHash, "balance": balance, "linkedFiles": linked, "message": "Deposit processed successfully"})
}
