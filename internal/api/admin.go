package api

import (
	"context"  // Context for scheduled passes
	"net/http" // HTTP status codes
	"time"     // Timestamps and retention

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library

	"nano_storage/internal/metrics"   // Sweep counter
	"nano_storage/internal/scheduler" // Storage fee pass
)

// FeeRunner runs the storage fee pass
type FeeRunner interface {
	RunStorageFeePass(ctx context.Context) (scheduler.Report, error)
}

// NonceSweeper deletes expired payment records
type NonceSweeper interface {
	SweepExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// StorageFeeCronHandler runs one storage fee pass for the external trigger
func StorageFeeCronHandler(runner FeeRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := runner.RunStorageFeePass(c.Request.Context())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"service": c.GetString("service"), // Calling service
				"error":   err.Error(),            // Error message
			}).Error("Storage fee pass failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process storage fees"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,                                  // Pass completed
			"report":    report,                                // Pass summary
			"timestamp": time.Now().UTC().Format(time.RFC3339), // Completion time
		})
	}
}

// NonceSweepCronHandler deletes payment records older than retention
func NonceSweepCronHandler(sweeper NonceSweeper, retention time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := sweeper.SweepExpired(c.Request.Context(), retention)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err.Error()}).Error("Nonce sweep failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to sweep payment records"})
			return
		}
		metrics.NoncesSwept.Add(float64(deleted))
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
	}
}
