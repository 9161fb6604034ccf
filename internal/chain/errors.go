package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"nano_storage/internal/domain"
)

// JSON-RPC codes providers use for methods that are disabled or rate limited.
var restrictedRPCCodes = map[int]bool{
	-32601: true, // method not found / not allowed
	-32005: true, // limit exceeded
	-32004: true, // method not supported
}

// classify maps a raw go-ethereum error onto the remote ledger taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrRemoteUnavailable, err)
	}
	if strings.Contains(strings.ToLower(revertReason(err)), "insufficient") {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrInsufficientRemoteBalance, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrRemoteRejected, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized,
			httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode >= http.StatusInternalServerError:
			return true
		}
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && restrictedRPCCodes[rpcErr.ErrorCode()] {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "403") || strings.Contains(msg, "restricted")
}

// revertReason extracts the revert reason from an RPC data error, falling back
// to the error text.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(hexData)); uerr == nil {
				return reason
			}
		}
	}
	return err.Error()
}
