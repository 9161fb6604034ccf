package domain

import "time"

// FileEntry Model
//
// Owned by the metadata store. The settlement core only flips the billing
// flags, moves the expiration date and deletes expired entries.
type FileEntry struct {
	FileID           string    `gorm:"primaryKey;size:64" json:"fileId"`               // File identifier
	FileName         string    `gorm:"size:255" json:"fileName"`                       // Original name
	FileSizeBytes    int64     `gorm:"not null" json:"fileSize"`                       // Size in bytes
	UploaderWalletID string    `gorm:"index;size:64;not null" json:"uploaderWalletId"` // Owner wallet
	UploadDate       time.Time `json:"uploadDate"`                                     // Upload time
	ExpirationDate   time.Time `gorm:"index" json:"expirationDate"`                    // End of free storage
	IsPrepaidLinked  bool      `gorm:"not null;default:false" json:"isPrepaidLinked"`  // Billed daily from credit
	DownloadLocked   bool      `gorm:"not null;default:false" json:"downloadLocked"`   // Set when credit runs out
}
