package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nano_storage/internal/credit"
	"nano_storage/internal/domain"
	"nano_storage/internal/pricing"
	"nano_storage/internal/store"
)

const gib = int64(1) << 30

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// offlineRemote behaves like an unreachable chain, so every deduction lands
// on the local cache.
type offlineRemote struct{}

func (offlineRemote) ReadBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrRemoteUnavailable
}

func (offlineRemote) AuthorizeDeduction(context.Context, string, decimal.Decimal) (string, error) {
	return "", domain.ErrRemoteUnavailable
}

// rejectingRemote answers reads but rejects every deduction.
type rejectingRemote struct{}

func (rejectingRemote) ReadBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrRemoteUnavailable
}

func (rejectingRemote) AuthorizeDeduction(context.Context, string, decimal.Decimal) (string, error) {
	return "", domain.ErrRemoteRejected
}

type memBlobs struct {
	mu      sync.Mutex
	deleted []string
	failOn  string
}

func (m *memBlobs) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fileID == m.failOn {
		return errors.New("disk error")
	}
	m.deleted = append(m.deleted, fileID)
	return nil
}

type fixture struct {
	sched   *Scheduler
	files   *store.Files
	wallets *store.Wallets
	blobs   *memBlobs
	now     time.Time
}

func newFixture(t *testing.T, guard RunGuard) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.WalletCredit{}, &domain.CreditTransaction{}, &domain.FileEntry{}))

	files := store.NewFiles(db)
	wallets := store.NewWallets(db)
	blobs := &memBlobs{}
	ledger := credit.NewLedger(offlineRemote{}, wallets, 6)
	s := New(files, wallets, ledger, blobs, pricing.DefaultRates(), guard, 0)
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return &fixture{sched: s, files: files, wallets: wallets, blobs: blobs, now: now}
}

func (f *fixture) addFile(t *testing.T, id, wallet string, size int64, prepaid, locked bool, expires time.Time) {
	t.Helper()
	require.NoError(t, f.files.Save(context.Background(), &domain.FileEntry{
		FileID:           id,
		FileName:         id + ".bin",
		FileSizeBytes:    size,
		UploaderWalletID: wallet,
		UploadDate:       f.now.AddDate(0, -1, 0),
		ExpirationDate:   expires,
		IsPrepaidLinked:  prepaid,
		DownloadLocked:   locked,
	}))
}

func (f *fixture) balance(t *testing.T, wallet string) decimal.Decimal {
	t.Helper()
	record, ok, err := f.wallets.Get(context.Background(), wallet)
	require.NoError(t, err)
	require.True(t, ok)
	return record.CreditBalance
}

func TestExhaustedWalletIsLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.wallets.Credit(ctx, "0xaaa", dec("0.004"), "0xdep")
	require.NoError(t, err)
	f.addFile(t, "a1", "0xaaa", gib, true, false, f.now.AddDate(1, 0, 0))
	f.addFile(t, "a2", "0xAAA", gib/2, true, false, f.now.AddDate(1, 0, 0))

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WalletsCharged)
	assert.Equal(t, 2, report.FilesLocked)
	assert.True(t, f.balance(t, "0xaaa").IsZero())

	for _, id := range []string{"a1", "a2"} {
		entry, err := f.files.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, entry.DownloadLocked, id)
		assert.False(t, entry.IsPrepaidLinked, id)
		assert.True(t, entry.ExpirationDate.After(f.now.AddDate(0, 11, 0)), "future expiration is kept")
	}
}

func TestRejectedRemoteDeductionChargesLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.sched.ledger = credit.NewLedger(rejectingRemote{}, f.wallets, 6)
	_, err := f.wallets.Credit(ctx, "0xccc", dec("1"), "0xdep")
	require.NoError(t, err)
	f.addFile(t, "c1", "0xccc", gib, true, false, f.now.AddDate(1, 0, 0))

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WalletsCharged)
	assert.Equal(t, 0, report.WalletsFailed)
	assert.True(t, report.TotalCharged.IsPositive())
	assert.True(t, f.balance(t, "0xccc").Equal(dec("1").Sub(report.TotalCharged)))
}

func TestExhaustedWalletFilesGetGracePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.wallets.Credit(ctx, "0xeee", dec("0.001"), "0xdep")
	require.NoError(t, err)
	f.addFile(t, "lapsed", "0xeee", gib, true, false, f.now.AddDate(0, 0, -30))

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.FilesLocked)
	assert.Zero(t, report.FilesDeleted, "locking does not delete in the same pass")

	entry, err := f.files.Get(ctx, "lapsed")
	require.NoError(t, err)
	assert.True(t, entry.DownloadLocked)
	assert.False(t, entry.IsPrepaidLinked)
	assert.True(t, entry.ExpirationDate.Equal(f.now), "grace clock starts at the lock, got %s", entry.ExpirationDate)

	runAt := func(at time.Time) Report {
		f.sched.now = func() time.Time { return at }
		report, err := f.sched.RunStorageFeePass(ctx)
		require.NoError(t, err)
		return report
	}

	report = runAt(f.now.AddDate(0, 0, 6))
	assert.Zero(t, report.WalletsCharged, "unlinked files are no longer billed")
	assert.Zero(t, report.FilesDeleted)
	_, err = f.files.Get(ctx, "lapsed")
	require.NoError(t, err, "retained within the grace period")

	report = runAt(f.now.AddDate(0, 0, 8))
	assert.Equal(t, 1, report.FilesDeleted)
	_, err = f.files.Get(ctx, "lapsed")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"lapsed"}, f.blobs.deleted)
}

func TestLowBalanceSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.wallets.Credit(ctx, "0xbbb", dec("0.015"), "0xdep")
	require.NoError(t, err)
	_, err = f.wallets.Credit(ctx, "0xccc", dec("10"), "0xdep2")
	require.NoError(t, err)
	f.addFile(t, "b1", "0xbbb", gib, true, false, f.now)
	f.addFile(t, "c1", "0xccc", gib, true, false, f.now)

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xbbb"}, report.LowBalance)
	assert.True(t, report.TotalCharged.Equal(dec("0.01")), "got %s", report.TotalCharged)
	assert.True(t, f.balance(t, "0xbbb").Equal(dec("0.01")))
	assert.True(t, f.balance(t, "0xccc").Equal(dec("9.995")))
}

func TestWalletWithoutCreditRecordIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.addFile(t, "x1", "0xnobody", gib, true, false, f.now)

	report, err := f.sched.RunStorageFeePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.WalletsSkipped)
	assert.Zero(t, report.WalletsCharged)

	entry, err := f.files.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.False(t, entry.DownloadLocked)
}

func TestFreeFileExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addFile(t, "expired", "0xddd", 10, false, false, f.now.Add(-time.Hour))
	f.addFile(t, "fresh", "0xddd", 10, false, false, f.now.Add(time.Hour))
	f.addFile(t, "locked-in-grace", "0xddd", 10, false, true, f.now.AddDate(0, 0, -6))
	f.addFile(t, "locked-past-grace", "0xddd", 10, false, true, f.now.AddDate(0, 0, -8))

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesDeleted)
	assert.ElementsMatch(t, []string{"expired", "locked-past-grace"}, f.blobs.deleted)

	for id, exists := range map[string]bool{"expired": false, "fresh": true, "locked-in-grace": true, "locked-past-grace": false} {
		_, err := f.files.Get(ctx, id)
		if exists {
			assert.NoError(t, err, id)
		} else {
			assert.ErrorIs(t, err, domain.ErrNotFound, id)
		}
	}
}

func TestBlobFailureKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.blobs.failOn = "bad"
	f.addFile(t, "bad", "0xddd", 10, false, false, f.now.Add(-time.Hour))
	f.addFile(t, "good", "0xddd", 10, false, false, f.now.Add(-time.Hour))

	report, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDeleted)
	assert.Equal(t, 1, report.FilesFailed)
	_, err = f.files.Get(ctx, "bad")
	assert.NoError(t, err)
}

func TestRunGuardPreventsDoubleCharge(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, NewRedisGuard(rdb))
	_, err := f.wallets.Credit(ctx, "0xeee", dec("1"), "0xdep")
	require.NoError(t, err)
	f.addFile(t, "e1", "0xeee", gib, true, false, f.now)

	first, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.WalletsCharged)

	second, err := f.sched.RunStorageFeePass(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.WalletsCharged)
	assert.Equal(t, 1, second.WalletsSkipped)
	assert.True(t, f.balance(t, "0xeee").Equal(dec("0.995")))
	assert.True(t, mr.Exists(guardKey("2026-03-10", "0xeee")))
}
