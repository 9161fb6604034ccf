package api

import (
	"math/big" // Raw token amounts
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client

	"nano_storage/internal/domain" // Wallet normalization
)

// CreditDepositedRequest is pushed by the chain event listener
type CreditDepositedRequest struct {
	WalletID string `json:"walletId" binding:"required"` // Depositing wallet
	Amount   string `json:"amount" binding:"required"`   // Smallest token units, decimal string
	TxHash   string `json:"txHash" binding:"required"`   // Deposit transaction
}

// CreditDepositedHandler applies a CreditDeposited event delivered by a
// trusted listener
func CreditDepositedHandler(ledger Depositor, files PrepaidLinker, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreditDepositedRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "walletId, amount and txHash are required"})
			return
		}
		raw, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || raw.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
		applyDeposit(c, ledger, files, rdb, domain.NormalizeWallet(req.WalletID), raw, req.TxHash, "listener")
	}
}
