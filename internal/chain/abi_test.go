package chain

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano_storage/internal/domain"
)

var (
	testPool   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testWallet = common.HexToAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
)

func depositLog(addr common.Address, wallet common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: addr,
		Topics: []common.Hash{
			poolABI.Events[depositEventName].ID,
			common.BytesToHash(wallet.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestParseDepositEvent(t *testing.T) {
	receipt := &types.Receipt{
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{
			{Address: testPool, Topics: []common.Hash{common.HexToHash("0xdead")}},
			depositLog(testPool, testWallet, big.NewInt(2_500_000)),
		},
	}

	event, ok := ParseDepositEvent(receipt, testPool)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(testWallet.Hex()), event.WalletID)
	assert.Equal(t, int64(2_500_000), event.Amount.Int64())
	assert.Equal(t, receipt.TxHash.Hex(), event.TxHash)
}

func TestParseDepositEventIgnoresOtherContracts(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	receipt := &types.Receipt{Logs: []*types.Log{depositLog(other, testWallet, big.NewInt(1))}}

	_, ok := ParseDepositEvent(receipt, testPool)
	assert.False(t, ok)
}

func TestParseDepositEventNotFound(t *testing.T) {
	_, ok := ParseDepositEvent(&types.Receipt{}, testPool)
	assert.False(t, ok)

	_, ok = ParseDepositEvent(nil, testPool)
	assert.False(t, ok)
}

func TestOfflineIsUnavailable(t *testing.T) {
	_, err := Offline{}.ReadBalance(context.Background(), "0xabc")
	assert.Equal(t, domain.RemoteUnavailable, domain.RemoteErrorKind(err))
	_, err = Offline{}.AuthorizeDeduction(context.Background(), "0xabc", decimal.NewFromInt(1))
	assert.Equal(t, domain.RemoteUnavailable, domain.RemoteErrorKind(err))
}
