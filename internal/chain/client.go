// Package chain is the remote ledger client: it reads and deducts prepaid
// credit on the StorageCreditPool contract and verifies payment transactions
// sent to the PaymentContract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nano_storage/internal/domain"
	"nano_storage/internal/pricing"
)

// Config describes the chain and contracts the client talks to.
type Config struct {
	RPCURL            string
	ChainID           int64
	StorageCreditPool string
	PaymentContract   string
	OwnerPrivateKey   string        // Server-held signer for deductCredit
	TokenDecimals     int32         // Precision of the payment token
	Timeout           time.Duration // Bound on every remote call
}

// Backend is the subset of an Ethereum node the client needs. *ethclient.Client
// implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Client talks to the remote ledger. It is safe for concurrent use.
type Client struct {
	eth     Backend
	close   func()
	cfg     Config
	chainID *big.Int
	pool    common.Address
	payment common.Address
	bound   *bind.BoundContract
	owner   *ecdsa.PrivateKey // nil when the server cannot deduct
}

// Dial connects to the configured RPC endpoint. The connection is owned by the
// returned client and released by Close.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	c, err := NewClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.close = eth.Close
	return c, nil
}

// NewClient builds a client over an existing backend. Close does not release
// the backend.
func NewClient(backend Backend, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.StorageCreditPool) {
		return nil, fmt.Errorf("chain: invalid StorageCreditPool address %q", cfg.StorageCreditPool)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		eth:     backend,
		close:   func() {},
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		pool:    common.HexToAddress(cfg.StorageCreditPool),
		payment: common.HexToAddress(cfg.PaymentContract),
	}
	c.bound = bind.NewBoundContract(c.pool, poolABI, backend, backend, backend)
	if cfg.OwnerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OwnerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: parse owner key: %w", err)
		}
		c.owner = key
	}
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.close()
}

// ReadBalance returns the wallet's on-chain credit balance in token units.
func (c *Client) ReadBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var out []interface{}
	err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "creditBalance", common.HexToAddress(walletID))
	if err != nil {
		return decimal.Zero, classify("read balance", err)
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("read balance: %w: unexpected return type %T", domain.ErrRemoteRejected, out[0])
	}
	return pricing.FromUnits(raw, c.cfg.TokenDecimals), nil
}

// AuthorizeDeduction subtracts amount from the wallet's on-chain balance using
// the owner key and waits for the transaction to be mined. It returns the
// transaction hash. The call is never retried: once sent it may still be mined
// after a timeout.
func (c *Client) AuthorizeDeduction(ctx context.Context, walletID string, amount decimal.Decimal) (string, error) {
	if c.owner == nil {
		return "", fmt.Errorf("authorize deduction: %w: no owner key configured", domain.ErrRemoteUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(c.owner, c.chainID)
	if err != nil {
		return "", fmt.Errorf("authorize deduction: %w: %v", domain.ErrRemoteRejected, err)
	}
	opts.Context = ctx

	units := pricing.ToUnits(amount, c.cfg.TokenDecimals)
	tx, err := c.bound.Transact(opts, "deductCredit", common.HexToAddress(walletID), units, []byte{})
	if err != nil {
		return "", classify("authorize deduction", err)
	}
	logrus.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"units":     units.String(),
		"tx_hash":   tx.Hash().Hex(),
	}).Info("Credit deduction transaction sent")

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return tx.Hash().Hex(), classify("authorize deduction", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), fmt.Errorf("authorize deduction: %w: transaction %s reverted", domain.ErrRemoteRejected, tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

// ParseDepositEvent decodes the CreditDeposited event of the credit pool from
// receipt.
func (c *Client) ParseDepositEvent(receipt *types.Receipt) (DepositEvent, bool) {
	return ParseDepositEvent(receipt, c.pool)
}

// DepositFromTx loads a mined deposit transaction and returns its
// CreditDeposited event.
func (c *Client) DepositFromTx(ctx context.Context, txHash string) (DepositEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return DepositEvent{}, fmt.Errorf("deposit %s: %w: transaction not mined", txHash, domain.ErrNotFound)
	}
	if err != nil {
		return DepositEvent{}, classify("deposit receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return DepositEvent{}, fmt.Errorf("deposit %s: %w: transaction failed", txHash, domain.ErrRemoteRejected)
	}
	event, ok := c.ParseDepositEvent(receipt)
	if !ok {
		return DepositEvent{}, fmt.Errorf("deposit %s: %w: no %s event", txHash, domain.ErrNotFound, depositEventName)
	}
	return event, nil
}

// VerifyPaymentTransaction checks that txHash is a mined, successful
// transaction from walletID to the payment contract. Any failure wraps
// domain.ErrInvalidAuthorization.
func (c *Client) VerifyPaymentTransaction(ctx context.Context, txHash, walletID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("payment tx %s: %w: %v", txHash, domain.ErrInvalidAuthorization, classify("transaction by hash", err))
	}
	if pending {
		return fmt.Errorf("payment tx %s: %w: not mined", txHash, domain.ErrInvalidAuthorization)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("payment tx %s: %w: %v", txHash, domain.ErrInvalidAuthorization, classify("transaction receipt", err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("payment tx %s: %w: reverted", txHash, domain.ErrInvalidAuthorization)
	}
	if tx.To() == nil || *tx.To() != c.payment {
		return fmt.Errorf("payment tx %s: %w: not sent to the payment contract", txHash, domain.ErrInvalidAuthorization)
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("payment tx %s: %w: %v", txHash, domain.ErrInvalidAuthorization, err)
	}
	if !strings.EqualFold(from.Hex(), walletID) {
		return fmt.Errorf("payment tx %s: %w: sender %s is not %s", txHash, domain.ErrInvalidAuthorization, from.Hex(), walletID)
	}
	return nil
}
