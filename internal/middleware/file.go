package middleware

import (
	"context"  // Store lookups
	"errors"   // Error matching
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging

	"nano_storage/internal/domain" // File metadata and errors
)

// FileKey is the context key holding the *domain.FileEntry of the request
const FileKey = "file"

// FileGetter loads file metadata
type FileGetter interface {
	Get(ctx context.Context, fileID string) (*domain.FileEntry, error)
}

// BlobChecker reports whether file content exists
type BlobChecker interface {
	Exists(ctx context.Context, fileID string) (bool, error)
}

// FileAccess resolves the :fileId route parameter and rejects missing or
// locked files before any payment is settled
func FileAccess(files FileGetter, blobs BlobChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("fileId") // File from the route
		entry, err := files.Get(c.Request.Context(), fileID)
		// Check the file is known
		if errors.Is(err, domain.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		} else if err != nil {
			logrus.WithFields(logrus.Fields{"file_id": fileID, "error": err.Error()}).Error("Failed to load file metadata")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load file"})
			return
		}
		// Locked files are retained but not served
		if entry.DownloadLocked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": domain.ErrLocked.Error()})
			return
		}
		// Metadata without content is treated as missing
		ok, err := blobs.Exists(c.Request.Context(), fileID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"file_id": fileID, "error": err.Error()}).Error("Failed to check file content")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load file"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "File content not found"})
			return
		}
		c.Set(FileKey, entry) // Store file entry in context
		c.Next()              // Proceed to the next handler
	}
}
