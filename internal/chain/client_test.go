package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano_storage/internal/domain"
)

const simChainID = 1337 // fixed by the simulated backend

var (
	simPool    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	simPayment = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// Runtime code of a stand-in credit pool:
//   - 36 bytes of calldata (creditBalance): returns 12_500_000
//   - 4 bytes of calldata: emits CreditDeposited(caller, 2_500_000)
//   - anything else (deductCredit): succeeds for amounts up to 10_000_000 and
//     reverts with "insufficient credit" above that
//
// The deposit event topic is spliced in between the two halves.
const (
	poolCodeHead = "0x36602414601b5736600414602957602435630098968010605a57005b6300bebc2060005260206000f35b63002625a0600052337f"
	poolCodeTail = "60206000a2005b6064606760003960646000fd" +
		"08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000013" +
		"696e73756666696369656e742063726564697400000000000000000000000000"
)

func poolCode() []byte {
	code := hexutil.MustDecode(poolCodeHead)
	code = append(code, poolABI.Events[depositEventName].ID.Bytes()...)
	return append(code, common.FromHex(poolCodeTail)...)
}

type simChain struct {
	backend *simulated.Backend
	client  *Client
	owner   *ecdsa.PrivateKey
	wallet  *ecdsa.PrivateKey
	other   *ecdsa.PrivateKey
}

func newSimChain(t *testing.T) *simChain {
	t.Helper()
	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	backend := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(owner.PublicKey):  {Balance: funds},
		crypto.PubkeyToAddress(wallet.PublicKey): {Balance: funds},
		crypto.PubkeyToAddress(other.PublicKey):  {Balance: funds},
		simPool:                                  {Code: poolCode(), Balance: big.NewInt(0)},
	})
	t.Cleanup(func() { _ = backend.Close() })

	// Mine continuously so WaitMined returns.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() { close(done) })

	client, err := NewClient(backend.Client(), Config{
		ChainID:           simChainID,
		StorageCreditPool: simPool.Hex(),
		PaymentContract:   simPayment.Hex(),
		OwnerPrivateKey:   hexutil.Encode(crypto.FromECDSA(owner)),
		TokenDecimals:     6,
		Timeout:           15 * time.Second,
	})
	require.NoError(t, err)
	return &simChain{backend: backend, client: client, owner: owner, wallet: wallet, other: other}
}

// send signs and submits a plain transaction from key and waits for it to be mined.
func (s *simChain) send(t *testing.T, key *ecdsa.PrivateKey, to common.Address, data []byte) common.Hash {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	eth := s.backend.Client()

	nonce, err := eth.PendingNonceAt(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(simChainID),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(50e9),
		Gas:       100_000,
		To:        &to,
		Value:     big.NewInt(1),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(simChainID)), key)
	require.NoError(t, err)
	require.NoError(t, eth.SendTransaction(ctx, signed))
	receipt, err := bind.WaitMined(ctx, eth, signed)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	return signed.Hash()
}

func addressOf(key *ecdsa.PrivateKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestClientReadBalanceScalesByDecimals(t *testing.T) {
	s := newSimChain(t)

	balance, err := s.client.ReadBalance(context.Background(), addressOf(s.wallet))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.5")), balance.String())
}

func TestClientAuthorizeDeduction(t *testing.T) {
	s := newSimChain(t)
	ctx := context.Background()

	txRef, err := s.client.AuthorizeDeduction(ctx, addressOf(s.wallet), decimal.RequireFromString("1.25"))
	require.NoError(t, err)
	require.NotEmpty(t, txRef)

	eth := s.backend.Client()
	tx, pending, err := eth.TransactionByHash(ctx, common.HexToHash(txRef))
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, simPool, *tx.To())
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(simChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(s.owner.PublicKey), from, "deduction is signed by the owner key")

	args, err := poolABI.Methods["deductCredit"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(s.wallet.PublicKey), args[0])
	assert.Equal(t, big.NewInt(1_250_000), args[1])
}

func TestClientAuthorizeDeductionInsufficient(t *testing.T) {
	s := newSimChain(t)

	_, err := s.client.AuthorizeDeduction(context.Background(), addressOf(s.wallet), decimal.NewFromInt(20))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientRemoteBalance)
	assert.Equal(t, domain.RemoteInsufficientBalance, domain.RemoteErrorKind(err))
}

func TestClientAuthorizeDeductionWithoutOwnerKey(t *testing.T) {
	s := newSimChain(t)
	client, err := NewClient(s.backend.Client(), Config{ChainID: simChainID, StorageCreditPool: simPool.Hex(), TokenDecimals: 6})
	require.NoError(t, err)

	_, err = client.AuthorizeDeduction(context.Background(), addressOf(s.wallet), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestClientDepositFromTx(t *testing.T) {
	s := newSimChain(t)
	ctx := context.Background()

	hash := s.send(t, s.wallet, simPool, []byte{0xd0, 0xe3, 0x0d, 0xb0})
	event, err := s.client.DepositFromTx(ctx, hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, addressOf(s.wallet), event.WalletID)
	assert.Equal(t, big.NewInt(2_500_000), event.Amount)
	assert.Equal(t, hash.Hex(), event.TxHash)

	// A mined transaction without the event is not a deposit.
	plain := s.send(t, s.wallet, simPayment, nil)
	_, err = s.client.DepositFromTx(ctx, plain.Hex())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.client.DepositFromTx(ctx, common.HexToHash("0x1234").Hex())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientVerifyPaymentTransaction(t *testing.T) {
	s := newSimChain(t)
	ctx := context.Background()

	paid := s.send(t, s.wallet, simPayment, nil)
	require.NoError(t, s.client.VerifyPaymentTransaction(ctx, paid.Hex(), addressOf(s.wallet)))

	t.Run("wrong sender", func(t *testing.T) {
		err := s.client.VerifyPaymentTransaction(ctx, paid.Hex(), addressOf(s.other))
		assert.ErrorIs(t, err, domain.ErrInvalidAuthorization)
	})

	t.Run("wrong recipient", func(t *testing.T) {
		elsewhere := s.send(t, s.wallet, crypto.PubkeyToAddress(s.other.PublicKey), nil)
		err := s.client.VerifyPaymentTransaction(ctx, elsewhere.Hex(), addressOf(s.wallet))
		assert.ErrorIs(t, err, domain.ErrInvalidAuthorization)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		err := s.client.VerifyPaymentTransaction(ctx, common.HexToHash("0x99").Hex(), addressOf(s.wallet))
		assert.ErrorIs(t, err, domain.ErrInvalidAuthorization)
	})
}
