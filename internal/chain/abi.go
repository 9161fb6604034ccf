package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Subset of the StorageCreditPool interface used by the settlement service.
const storageCreditPoolABI = `[
  {"type":"function","name":"creditBalance","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"deductCredit","stateMutability":"nonpayable",
   "inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"signature","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"CreditDeposited","anonymous":false,
   "inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const depositEventName = "CreditDeposited"

var poolABI = mustParseABI(storageCreditPoolABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid contract ABI: " + err.Error())
	}
	return parsed
}

// DepositEvent is a decoded CreditDeposited log.
type DepositEvent struct {
	WalletID string   // Lower-case depositor address
	Amount   *big.Int // Smallest token denomination
	TxHash   string
}

// ParseDepositEvent returns the first CreditDeposited event emitted by pool in
// receipt. ok is false when the receipt carries no such event.
func ParseDepositEvent(receipt *types.Receipt, pool common.Address) (DepositEvent, bool) {
	if receipt == nil {
		return DepositEvent{}, false
	}
	event := poolABI.Events[depositEventName]
	for _, log := range receipt.Logs {
		if log == nil || log.Address != pool || len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil || len(values) != 1 {
			continue // Malformed payload, keep looking
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		return DepositEvent{
			WalletID: strings.ToLower(common.BytesToAddress(log.Topics[1].Bytes()).Hex()),
			Amount:   amount,
			TxHash:   receipt.TxHash.Hex(),
		}, true
	}
	return DepositEvent{}, false
}
