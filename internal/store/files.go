package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nano_storage/internal/domain"
)

// FileUpdate is a partial update of a file entry. Nil fields are left as is.
type FileUpdate struct {
	IsPrepaidLinked *bool
	DownloadLocked  *bool
	ExpirationDate  *time.Time
}

func (u FileUpdate) columns() map[string]any {
	cols := map[string]any{}
	if u.IsPrepaidLinked != nil {
		cols["is_prepaid_linked"] = *u.IsPrepaidLinked
	}
	if u.DownloadLocked != nil {
		cols["download_locked"] = *u.DownloadLocked
	}
	if u.ExpirationDate != nil {
		cols["expiration_date"] = *u.ExpirationDate
	}
	return cols
}

// Files is the file metadata store
type Files struct {
	db *gorm.DB
}

// NewFiles returns a metadata store backed by db
func NewFiles(db *gorm.DB) *Files {
	return &Files{db: db}
}

// Save creates or replaces a file entry
func (f *Files) Save(ctx context.Context, entry *domain.FileEntry) error {
	entry.UploaderWalletID = domain.NormalizeWallet(entry.UploaderWalletID)
	return f.db.WithContext(ctx).Save(entry).Error
}

// Get returns the entry of fileID or domain.ErrNotFound
func (f *Files) Get(ctx context.Context, fileID string) (*domain.FileEntry, error) {
	var entry domain.FileEntry
	err := f.db.WithContext(ctx).Where("file_id = ?", fileID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByWallet returns every file uploaded by walletID
func (f *Files) GetByWallet(ctx context.Context, walletID string) ([]domain.FileEntry, error) {
	var entries []domain.FileEntry
	err := f.db.WithContext(ctx).
		Where("uploader_wallet_id = ?", domain.NormalizeWallet(walletID)).
		Order("upload_date").
		Find(&entries).Error
	return entries, err
}

// GetAll returns every file entry
func (f *Files) GetAll(ctx context.Context) ([]domain.FileEntry, error) {
	var entries []domain.FileEntry
	err := f.db.WithContext(ctx).Order("file_id").Find(&entries).Error
	return entries, err
}

// Update applies a partial update. Updating a missing entry is a no-op.
func (f *Files) Update(ctx context.Context, fileID string, update FileUpdate) error {
	cols := update.columns()
	if len(cols) == 0 {
		return nil
	}
	return f.db.WithContext(ctx).Model(&domain.FileEntry{}).Where("file_id = ?", fileID).Updates(cols).Error
}

// Delete removes the entry of fileID
func (f *Files) Delete(ctx context.Context, fileID string) error {
	return f.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&domain.FileEntry{}).Error
}

// LinkPrepaid puts every file of walletID back on prepaid billing and unlocks
// downloads. It is called after a confirmed deposit.
func (f *Files) LinkPrepaid(ctx context.Context, walletID string) (int64, error) {
	res := f.db.WithContext(ctx).Model(&domain.FileEntry{}).
		Where("uploader_wallet_id = ?", domain.NormalizeWallet(walletID)).
		Updates(map[string]any{"is_prepaid_linked": true, "download_locked": false})
	return res.RowsAffected, res.Error
}
