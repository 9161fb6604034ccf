package credit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano_storage/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeRemote is a scripted remote ledger.
type fakeRemote struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	readErr    error
	deductErr  error
	deductions int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{balances: map[string]decimal.Decimal{}}
}

func (f *fakeRemote) ReadBalance(_ context.Context, walletID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return decimal.Zero, f.readErr
	}
	return f.balances[walletID], nil
}

func (f *fakeRemote) AuthorizeDeduction(_ context.Context, walletID string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deductions++
	if f.deductErr != nil {
		return "", f.deductErr
	}
	f.balances[walletID] = f.balances[walletID].Sub(amount)
	return fmt.Sprintf("0xtx%d", f.deductions), nil
}

// memCache is an in-memory balance cache that clamps at zero like the store.
type memCache struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	refs     map[string]bool
	sources  []string // source of every debit, in order
}

func newMemCache() *memCache {
	return &memCache{balances: map[string]decimal.Decimal{}, refs: map[string]bool{}}
}

func (m *memCache) Get(_ context.Context, walletID string) (domain.WalletCredit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[walletID]
	return domain.WalletCredit{WalletID: walletID, CreditBalance: b}, ok, nil
}

func (m *memCache) Sync(_ context.Context, walletID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[walletID] = decimal.Max(balance, decimal.Zero)
	return nil
}

func (m *memCache) Credit(_ context.Context, walletID string, amount decimal.Decimal, txRef string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txRef != "" && m.refs[txRef] {
		return decimal.Zero, domain.ErrDuplicateDeposit
	}
	m.refs[txRef] = true
	m.balances[walletID] = m.balances[walletID].Add(amount)
	return m.balances[walletID], nil
}

func (m *memCache) Debit(_ context.Context, walletID string, amount decimal.Decimal, source, _ string) (decimal.Decimal, error) {
	// read and write under separate lock sections so lost updates surface
	// unless the ledger serializes per wallet
	m.mu.Lock()
	current := m.balances[walletID]
	m.sources = append(m.sources, source)
	m.mu.Unlock()
	next := decimal.Max(current.Sub(amount), decimal.Zero)
	m.mu.Lock()
	m.balances[walletID] = next
	m.mu.Unlock()
	return next, nil
}

func TestGetBalanceFallsBackToCacheWhenRemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	remote, cache := newFakeRemote(), newMemCache()
	cache.balances["0xabc"] = dec("50")
	remote.readErr = fmt.Errorf("read balance: %w", domain.ErrRemoteUnavailable)

	ledger := NewLedger(remote, cache, 6)
	balance, err := ledger.GetBalance(ctx, "0xABC")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50")), "got %s", balance)
}

func TestGetBalanceUnknownWalletIsZero(t *testing.T) {
	remote := newFakeRemote()
	remote.readErr = domain.ErrRemoteRejected

	balance, err := NewLedger(remote, newMemCache(), 6).GetBalance(context.Background(), "0xnew")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGetBalanceWritesThroughNonZero(t *testing.T) {
	ctx := context.Background()
	remote, cache := newFakeRemote(), newMemCache()
	ledger := NewLedger(remote, cache, 6)

	cache.balances["0xabc"] = dec("5")
	remote.balances["0xabc"] = decimal.Zero
	balance, err := ledger.GetBalance(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.True(t, cache.balances["0xabc"].Equal(dec("5")), "zero remote read must not overwrite the cache")

	remote.balances["0xabc"] = dec("12.5")
	_, err = ledger.GetBalance(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, cache.balances["0xabc"].Equal(dec("12.5")))
}

func TestDepositScalesRawUnits(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	ledger := NewLedger(newFakeRemote(), cache, 6)

	balance, err := ledger.Deposit(ctx, "0xABC", big.NewInt(100_000_000), "0xdep")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")), "got %s", balance)

	_, err = ledger.Deposit(ctx, "0xabc", big.NewInt(1), "0xdep")
	assert.ErrorIs(t, err, domain.ErrDuplicateDeposit)
}

func TestDeductRemoteThenSync(t *testing.T) {
	ctx := context.Background()
	remote, cache := newFakeRemote(), newMemCache()
	remote.balances["0xabc"] = dec("100")
	cache.balances["0xabc"] = dec("100")

	balance, err := NewLedger(remote, cache, 6).Deduct(ctx, "0xabc", dec("0.01"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("99.99")), "got %s", balance)
	assert.True(t, cache.balances["0xabc"].Equal(dec("99.99")))
	assert.Equal(t, 1, remote.deductions)
}

func TestDeductFallback(t *testing.T) {
	for _, remoteErr := range []error{
		domain.ErrRemoteUnavailable,
		domain.ErrInsufficientRemoteBalance,
		domain.ErrRemoteRejected,
		errors.New("unclassified failure"),
	} {
		t.Run(remoteErr.Error(), func(t *testing.T) {
			remote, cache := newFakeRemote(), newMemCache()
			remote.deductErr = fmt.Errorf("deduct credit: %w", remoteErr)
			cache.balances["0xabc"] = dec("1")

			balance, err := NewLedger(remote, cache, 6).Deduct(context.Background(), "0xabc", dec("0.25"))
			require.NoError(t, err)
			assert.True(t, balance.Equal(dec("0.75")), "got %s", balance)
			assert.Equal(t, []string{domain.SourceLocal}, cache.sources)
		})
	}
}

func TestDeductRejectedStillChargesCache(t *testing.T) {
	remote, cache := newFakeRemote(), newMemCache()
	remote.deductErr = fmt.Errorf("deduct credit: %w", domain.ErrRemoteRejected)
	cache.balances["0xabc"] = dec("0.1")

	balance, err := NewLedger(remote, cache, 6).Deduct(context.Background(), "0xabc", dec("0.25"))
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "clamped at zero, got %s", balance)
	assert.Equal(t, 1, remote.deductions, "the remote call is not retried")
}

func TestDeductZeroSkipsRemote(t *testing.T) {
	remote, cache := newFakeRemote(), newMemCache()
	cache.balances["0xabc"] = dec("3")

	balance, err := NewLedger(remote, cache, 6).Deduct(context.Background(), "0xabc", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("3")))
	assert.Zero(t, remote.deductions)
}

func TestConcurrentLocalDeductionsDoNotLoseUpdates(t *testing.T) {
	remote, cache := newFakeRemote(), newMemCache()
	remote.deductErr = domain.ErrRemoteUnavailable
	cache.balances["0xabc"] = dec("10")
	ledger := NewLedger(remote, cache, 6)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Deduct(context.Background(), "0xabc", dec("0.1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.True(t, cache.balances["0xabc"].Equal(dec("5")), "got %s", cache.balances["0xabc"])
}

func TestBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	remote, cache := newFakeRemote(), newMemCache()
	remote.deductErr = domain.ErrInsufficientRemoteBalance
	ledger := NewLedger(remote, cache, 6)

	_, err := ledger.Deposit(ctx, "0xabc", big.NewInt(1_500_000), "0xd1")
	require.NoError(t, err)
	for _, amount := range []string{"1", "1", "0.3", "7"} {
		balance, err := ledger.Deduct(ctx, "0xabc", dec(amount))
		require.NoError(t, err)
		assert.False(t, balance.IsNegative())
	}
	assert.True(t, cache.balances["0xabc"].IsZero())

	ok, err := ledger.HasSufficient(ctx, "0xabc", dec("0.0001"))
	require.NoError(t, err)
	assert.False(t, ok)
}
