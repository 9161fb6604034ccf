// Package scheduler runs the daily storage-fee pass: charging prepaid
// wallets, locking files of exhausted wallets and deleting expired free files.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nano_storage/internal/domain"
	"nano_storage/internal/metrics"
	"nano_storage/internal/pricing"
	"nano_storage/internal/store"
)

const (
	DefaultGracePeriod = 7 * 24 * time.Hour
	lowBalanceDays     = 3
)

// FileStore is the file metadata collaborator.
type FileStore interface {
	GetAll(ctx context.Context) ([]domain.FileEntry, error)
	Update(ctx context.Context, fileID string, update store.FileUpdate) error
	Delete(ctx context.Context, fileID string) error
}

// WalletLister lists cached wallet credit records.
type WalletLister interface {
	List(ctx context.Context) ([]domain.WalletCredit, error)
}

// Ledger charges storage fees.
type Ledger interface {
	Deduct(ctx context.Context, walletID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// BlobStore holds file content.
type BlobStore interface {
	Delete(ctx context.Context, fileID string) error
}

// RunGuard marks a wallet as charged for a day. Acquire returns false when the
// wallet was already charged.
type RunGuard interface {
	Acquire(ctx context.Context, day, walletID string) (bool, error)
	Release(ctx context.Context, day, walletID string)
}

// Report summarizes one pass.
type Report struct {
	Day            string          `json:"day"`
	WalletsCharged int             `json:"walletsCharged"`
	WalletsSkipped int             `json:"walletsSkipped"`
	WalletsFailed  int             `json:"walletsFailed"`
	TotalCharged   decimal.Decimal `json:"totalCharged"`
	LowBalance     []string        `json:"lowBalance"`
	FilesLocked    int             `json:"filesLocked"`
	FilesDeleted   int             `json:"filesDeleted"`
	FilesFailed    int             `json:"filesFailed"`
}

// Scheduler runs storage-fee passes.
type Scheduler struct {
	files   FileStore
	wallets WalletLister
	ledger  Ledger
	blobs   BlobStore
	rates   pricing.Rates
	guard   RunGuard // Optional
	grace   time.Duration
	now     func() time.Time
}

// New returns a scheduler. guard may be nil; a pass then charges every wallet
// each time it runs.
func New(files FileStore, wallets WalletLister, ledger Ledger, blobs BlobStore, rates pricing.Rates, guard RunGuard, grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Scheduler{
		files:   files,
		wallets: wallets,
		ledger:  ledger,
		blobs:   blobs,
		rates:   rates,
		guard:   guard,
		grace:   grace,
		now:     time.Now,
	}
}

// RunStorageFeePass runs one pass. Only loading the inputs can fail the pass;
// failures for a single wallet or file are logged, counted and skipped.
func (s *Scheduler) RunStorageFeePass(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report := Report{Day: now.Format("2006-01-02"), TotalCharged: decimal.Zero, LowBalance: []string{}}
	logrus.WithField("day", report.Day).Info("Storage fee pass started")

	files, err := s.files.GetAll(ctx)
	if err != nil {
		return report, fmt.Errorf("load files: %w", err)
	}
	credits, err := s.wallets.List(ctx)
	if err != nil {
		return report, fmt.Errorf("load wallets: %w", err)
	}
	known := make(map[string]bool, len(credits))
	for _, c := range credits {
		known[domain.NormalizeWallet(c.WalletID)] = true
	}

	prepaid := map[string][]domain.FileEntry{}
	var free []domain.FileEntry
	for _, f := range files {
		if f.IsPrepaidLinked {
			wallet := domain.NormalizeWallet(f.UploaderWalletID)
			prepaid[wallet] = append(prepaid[wallet], f)
		} else {
			free = append(free, f)
		}
	}

	walletIDs := make([]string, 0, len(prepaid))
	for w := range prepaid {
		walletIDs = append(walletIDs, w)
	}
	sort.Strings(walletIDs)

	for _, walletID := range walletIDs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !known[walletID] {
			report.WalletsSkipped++
			continue
		}
		s.chargeWallet(ctx, now, walletID, prepaid[walletID], &report)
	}

	for _, f := range free {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.expireFile(ctx, now, f, &report)
	}

	logrus.WithFields(logrus.Fields{
		"day":             report.Day,
		"wallets_charged": report.WalletsCharged,
		"wallets_skipped": report.WalletsSkipped,
		"wallets_failed":  report.WalletsFailed,
		"total_charged":   report.TotalCharged.String(),
		"files_locked":    report.FilesLocked,
		"files_deleted":   report.FilesDeleted,
	}).Info("Storage fee pass completed")
	return report, nil
}

func (s *Scheduler) chargeWallet(ctx context.Context, now time.Time, walletID string, files []domain.FileEntry, report *Report) {
	log := logrus.WithFields(logrus.Fields{"wallet_id": walletID, "files": len(files)})

	total := decimal.Zero
	for _, f := range files {
		total = total.Add(s.rates.DailyStorageFee(f.FileSizeBytes))
	}
	if !total.IsPositive() {
		report.WalletsSkipped++
		return
	}

	if s.guard != nil {
		ok, err := s.guard.Acquire(ctx, report.Day, walletID)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Run guard unavailable, charging without it")
		} else if !ok {
			log.Info("Storage fee already charged today")
			report.WalletsSkipped++
			metrics.StorageFeeWallets.WithLabelValues("already_charged").Inc()
			return
		}
	}

	balance, err := s.ledger.Deduct(ctx, walletID, total)
	if err != nil {
		if s.guard != nil {
			s.guard.Release(ctx, report.Day, walletID)
		}
		log.WithFields(logrus.Fields{"fee": total.String(), "error": err.Error()}).Error("Storage fee deduction failed")
		report.WalletsFailed++
		metrics.StorageFeeWallets.WithLabelValues("failed").Inc()
		return
	}
	report.WalletsCharged++
	report.TotalCharged = report.TotalCharged.Add(total)
	metrics.StorageFeeWallets.WithLabelValues("charged").Inc()
	log = log.WithFields(logrus.Fields{"fee": total.String(), "new_balance": balance.String()})

	if balance.IsPositive() && balance.LessThan(total.Mul(decimal.NewFromInt(lowBalanceDays))) {
		days := balance.Div(total).StringFixed(2)
		log.WithField("days_covered", days).Warn("Low balance")
		report.LowBalance = append(report.LowBalance, walletID)
		metrics.StorageFeeWallets.WithLabelValues("low_balance").Inc()
	}

	if !balance.IsZero() {
		log.Info("Storage fee charged")
		return
	}

	locked := true
	unlinked := false
	for _, f := range files {
		expires := f.ExpirationDate
		if expires.Before(now) {
			expires = now
		}
		update := store.FileUpdate{DownloadLocked: &locked, IsPrepaidLinked: &unlinked, ExpirationDate: &expires}
		if err := s.files.Update(ctx, f.FileID, update); err != nil {
			log.WithFields(logrus.Fields{"file_id": f.FileID, "error": err.Error()}).Error("Failed to lock file")
			report.FilesFailed++
			continue
		}
		report.FilesLocked++
		metrics.FileTransitions.WithLabelValues("locked").Inc()
	}
	log.Warn("Balance exhausted, files locked")
}

func (s *Scheduler) expireFile(ctx context.Context, now time.Time, f domain.FileEntry, report *Report) {
	var reason string
	switch {
	case f.DownloadLocked && now.After(f.ExpirationDate.Add(s.grace)):
		reason = "grace_expired"
	case !f.DownloadLocked && now.After(f.ExpirationDate):
		reason = "expired"
	default:
		return
	}

	log := logrus.WithFields(logrus.Fields{"file_id": f.FileID, "wallet_id": f.UploaderWalletID, "reason": reason})
	if err := s.blobs.Delete(ctx, f.FileID); err != nil {
		log.WithField("error", err.Error()).Error("Failed to delete file content")
		report.FilesFailed++
		return
	}
	if err := s.files.Delete(ctx, f.FileID); err != nil {
		log.WithField("error", err.Error()).Error("Failed to delete file metadata")
		report.FilesFailed++
		return
	}
	report.FilesDeleted++
	metrics.FileTransitions.WithLabelValues(reason).Inc()
	log.Info("Expired file deleted")
}
