package api

import (
	"context"  // Context for settlement
	"io"       // File content
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library

	"nano_storage/internal/domain"     // Domain models and errors
	"nano_storage/internal/middleware" // File access context key
	"nano_storage/internal/payment"    // Settlement decisions
)

// Wallet identification headers
const (
	HeaderWalletID        = "X-Wallet-Id"
	HeaderPaymentWalletID = "X-Payment-Wallet-Id"
)

// Settler decides whether a download is paid for
type Settler interface {
	ProcessDownloadPayment(ctx context.Context, req payment.DownloadRequest) (payment.Decision, error)
}

// BlobOpener streams file content
type BlobOpener interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// DownloadHandler settles payment for the file loaded by
// middleware.FileAccess and streams it, or answers 402 with a payment
// challenge
func DownloadHandler(settler Settler, blobs BlobOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := c.MustGet(middleware.FileKey).(*domain.FileEntry) // Set by FileAccess
		walletID := c.GetHeader(HeaderWalletID)                    // Paying wallet
		if walletID == "" {
			walletID = c.GetHeader(HeaderPaymentWalletID)
		}
		if walletID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Wallet ID is required"})
			return
		}

		ctx := c.Request.Context()
		decision, err := settler.ProcessDownloadPayment(ctx, payment.DownloadRequest{
			WalletID:      walletID,
			FileID:        entry.FileID,
			FileSizeBytes: entry.FileSizeBytes,
			Headers:       c.Request.Header,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"wallet_id": walletID,     // Wallet
				"file_id":   entry.FileID, // File
				"error":     err.Error(),  // Error message
			}).Error("Download settlement failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment settlement failed"})
			return
		}

		switch decision.Outcome {
		case payment.ChallengeIssued:
			for k, v := range decision.Challenge.Headers() {
				c.Writer.Header()[k] = v // Challenge headers
			}
			c.JSON(http.StatusPaymentRequired, decision.Challenge)
			return
		case payment.Denied:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment required", "reason": decision.Reason})
			return
		}

		rc, size, err := blobs.Open(ctx, entry.FileID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"file_id": entry.FileID, "error": err.Error()}).Error("Failed to open paid file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, size, "application/octet-stream", rc, map[string]string{
			"Content-Disposition": `attachment; filename="` + entry.FileName + `"`,
		})
	}
}
