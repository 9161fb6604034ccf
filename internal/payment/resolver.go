// Package payment decides, per download, whether the request is paid for by
// prepaid credit, by a one-shot payment authorization, or must be challenged.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nano_storage/internal/domain"
	"nano_storage/internal/metrics"
	"nano_storage/internal/pricing"
	"nano_storage/internal/signature"
)

// Request headers
const (
	HeaderWalletSignature  = "X-Wallet-Signature"
	HeaderPaymentSignature = "X-Payment-Signature"
	HeaderPaymentTxHash    = "X-Payment-Tx-Hash"
	HeaderPaymentNonce     = "X-Payment-Nonce"
	HeaderPaymentTimestamp = "X-Payment-Timestamp"
)

// Challenge headers
const (
	HeaderRequiredAmount = "X-Payment-Required-Amount"
	HeaderPayeeAddress   = "X-Payment-Address"
	HeaderToken          = "X-Payment-Token"
	HeaderChallengeNonce = "X-Payment-Nonce"
	HeaderChainID        = "X-Payment-Chain-Id"
)

// Outcome of a settlement decision.
type Outcome string

const (
	Granted         Outcome = "granted"
	ChallengeIssued Outcome = "challenge_issued"
	Denied          Outcome = "denied"
)

// Payment paths
const (
	PathCredit      = "credit"
	PathSignature   = "signature"
	PathTransaction = "transaction"
	PathNone        = "none"
)

// Ledger is the credit ledger as seen by the resolver.
type Ledger interface {
	HasSufficient(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error)
	Deduct(ctx context.Context, walletID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// NonceRegistry tracks one-shot payment nonces.
type NonceRegistry interface {
	Claim(ctx context.Context, nonce string) (release func(), err error)
	IsConsumed(ctx context.Context, nonce string) (bool, error)
	Record(ctx context.Context, record domain.PaymentRecord) error
}

// TxVerifier confirms on-chain payment transactions.
type TxVerifier interface {
	VerifyPaymentTransaction(ctx context.Context, txHash, walletID string) error
}

// Config holds the resolver's pricing and challenge parameters.
type Config struct {
	Rates           pricing.Rates
	ChainID         int64
	PaymentContract string // Payee address surfaced in challenges
	TokenAddress    string
	TokenDecimals   int32
	SignatureWindow time.Duration
}

// DownloadRequest is one download awaiting settlement.
type DownloadRequest struct {
	WalletID      string
	FileID        string
	FileSizeBytes int64
	Headers       http.Header
}

// Challenge carries what a client needs to sign a one-shot payment.
type Challenge struct {
	Amount       decimal.Decimal `json:"amount"`
	PayeeAddress string          `json:"payeeAddress"`
	TokenAddress string          `json:"tokenAddress"`
	Nonce        string          `json:"nonce"`
	ChainID      int64           `json:"chainId"`
}

// Headers renders the challenge as response headers.
func (c Challenge) Headers() http.Header {
	h := http.Header{}
	h.Set(HeaderRequiredAmount, c.Amount.String())
	h.Set(HeaderPayeeAddress, c.PayeeAddress)
	h.Set(HeaderToken, c.TokenAddress)
	h.Set(HeaderChallengeNonce, c.Nonce)
	h.Set(HeaderChainID, strconv.FormatInt(c.ChainID, 10))
	return h
}

// Decision is the result of ProcessDownloadPayment.
type Decision struct {
	Outcome   Outcome
	Fee       decimal.Decimal
	Path      string
	Reason    string     // Set when denied
	Challenge *Challenge // Set when a challenge was issued
}

// Resolver runs the settlement state machine.
type Resolver struct {
	cfg      Config
	ledger   Ledger
	nonces   NonceRegistry
	txs      TxVerifier
	verifier *signature.Verifier
	now      func() time.Time
	newNonce func() (string, error)
}

// NewResolver wires a resolver. txs may be nil, in which case transaction-hash
// authorizations are denied.
func NewResolver(cfg Config, ledger Ledger, nonces NonceRegistry, txs TxVerifier) *Resolver {
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = 5 * time.Minute
	}
	return &Resolver{
		cfg:      cfg,
		ledger:   ledger,
		nonces:   nonces,
		txs:      txs,
		verifier: signature.NewVerifier(cfg.ChainID, cfg.PaymentContract, cfg.SignatureWindow),
		now:      time.Now,
		newNonce: GenerateNonce,
	}
}

// GenerateNonce returns 32 random bytes, hex encoded.
func GenerateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Fee returns the transfer fee charged for a download of sizeBytes.
func (r *Resolver) Fee(sizeBytes int64) decimal.Decimal {
	return r.cfg.Rates.RoundUpToMinimumUnit(r.cfg.Rates.TransferFee(sizeBytes))
}

// ProcessDownloadPayment settles one download. Prepaid credit is used first;
// otherwise a one-shot authorization from the headers is verified; with
// neither, a challenge is issued. A returned error is a settlement failure,
// not a denial.
func (r *Resolver) ProcessDownloadPayment(ctx context.Context, req DownloadRequest) (Decision, error) {
	walletID := domain.NormalizeWallet(req.WalletID)
	fee := r.Fee(req.FileSizeBytes)
	log := logrus.WithFields(logrus.Fields{"wallet_id": walletID, "file_id": req.FileID, "fee": fee.String()})

	sufficient, err := r.ledger.HasSufficient(ctx, walletID, fee)
	if err != nil {
		return Decision{}, fmt.Errorf("check credit: %w", err)
	}

	if sufficient {
		sig := req.Headers.Get(HeaderWalletSignature)
		// No signature: holding credit is a standing authorization.
		if sig == "" || r.verifier.VerifyWalletSignature(signature.DownloadMessage(req.FileID), sig, walletID) {
			// A failed charge is recorded but never withdraws the grant.
			if balance, err := r.ledger.Deduct(ctx, walletID, fee); err != nil {
				log.WithField("error", err.Error()).Error("Credit deduction failed after grant")
			} else {
				log.WithFields(logrus.Fields{"new_balance": balance.String(), "signed": sig != ""}).Info("Download granted (credit)")
			}
			return r.decide(Decision{Outcome: Granted, Fee: fee, Path: PathCredit}), nil
		}
		log.Warn("Invalid wallet signature for credit payment")
	}

	paymentSig := req.Headers.Get(HeaderPaymentSignature)
	txHash := req.Headers.Get(HeaderPaymentTxHash)
	if paymentSig == "" && txHash == "" {
		nonce, err := r.newNonce()
		if err != nil {
			return Decision{}, err
		}
		challenge := &Challenge{
			Amount:       fee,
			PayeeAddress: r.cfg.PaymentContract,
			TokenAddress: r.cfg.TokenAddress,
			Nonce:        nonce,
			ChainID:      r.cfg.ChainID,
		}
		log.WithField("nonce", nonce).Info("Payment required")
		return r.decide(Decision{Outcome: ChallengeIssued, Fee: fee, Path: PathNone, Challenge: challenge}), nil
	}

	path := PathSignature
	if txHash != "" {
		path = PathTransaction
	}
	nonce := strings.TrimSpace(req.Headers.Get(HeaderPaymentNonce))
	if nonce == "" {
		return r.deny(log, fee, path, "missing nonce"), nil
	}
	if strings.HasPrefix(nonce, domain.PaymentTxKey("")) {
		return r.deny(log, fee, path, "malformed nonce"), nil
	}
	log = log.WithField("nonce", nonce)
	if txHash != "" {
		raw, err := hexutil.Decode(strings.TrimSpace(txHash))
		if err != nil || len(raw) != common.HashLength {
			return r.deny(log, fee, path, "malformed transaction hash"), nil
		}
		txHash = hexutil.Encode(raw) // one spelling per transaction
	}

	release, err := r.nonces.Claim(ctx, nonce)
	if errors.Is(err, domain.ErrNonceBusy) {
		return r.deny(log, fee, path, "nonce in use"), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("claim nonce: %w", err)
	}
	defer release()

	consumed, err := r.nonces.IsConsumed(ctx, nonce)
	if err != nil {
		return Decision{}, fmt.Errorf("check nonce: %w", err)
	}
	if consumed {
		return r.deny(log, fee, path, "nonce already used"), nil
	}
	if txHash != "" {
		used, err := r.nonces.IsConsumed(ctx, domain.PaymentTxKey(txHash))
		if err != nil {
			return Decision{}, fmt.Errorf("check payment transaction: %w", err)
		}
		if used {
			return r.deny(log, fee, path, "payment transaction already used"), nil
		}
	}

	if err := r.verify(ctx, req, walletID, fee, nonce, paymentSig, txHash); err != nil {
		return r.deny(log, fee, path, err.Error()), nil
	}

	record := domain.PaymentRecord{Nonce: nonce, WalletID: walletID, FileID: req.FileID, Amount: fee, TxHash: txHash, UsedAt: r.now().UTC()}
	if err := r.nonces.Record(ctx, record); err != nil {
		if errors.Is(err, domain.ErrNonceConsumed) {
			return r.deny(log, fee, path, "authorization already used"), nil
		}
		return Decision{}, fmt.Errorf("record payment: %w", err)
	}
	log.WithField("path", path).Info("Download granted (one-shot payment)")
	return r.decide(Decision{Outcome: Granted, Fee: fee, Path: path}), nil
}

// verify checks a one-shot authorization. A transaction hash takes
// precedence over a signature. Errors wrap domain.ErrInvalidAuthorization.
func (r *Resolver) verify(ctx context.Context, req DownloadRequest, walletID string, fee decimal.Decimal, nonce, sig, txHash string) error {
	if txHash != "" {
		if r.txs == nil {
			return fmt.Errorf("transaction payments disabled: %w", domain.ErrInvalidAuthorization)
		}
		if err := r.txs.VerifyPaymentTransaction(ctx, txHash, walletID); err != nil {
			if errors.Is(err, domain.ErrInvalidAuthorization) {
				return err
			}
			return fmt.Errorf("verify transaction: %v: %w", err, domain.ErrInvalidAuthorization)
		}
		return nil
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(req.Headers.Get(HeaderPaymentTimestamp)), 10, 64)
	if err != nil {
		return fmt.Errorf("missing or malformed timestamp: %w", domain.ErrInvalidAuthorization)
	}
	if !r.verifier.TimestampValid(ts, r.now()) {
		return fmt.Errorf("timestamp outside validity window: %w", domain.ErrInvalidAuthorization)
	}
	msg := signature.PaymentMessage{
		FileID:    req.FileID,
		Amount:    pricing.ToUnits(fee, r.cfg.TokenDecimals),
		Nonce:     nonce,
		Timestamp: ts,
	}
	if !r.verifier.VerifyPaymentSignature(msg, sig, walletID) {
		return fmt.Errorf("signature does not match wallet: %w", domain.ErrInvalidAuthorization)
	}
	return nil
}

func (r *Resolver) deny(log *logrus.Entry, fee decimal.Decimal, path, reason string) Decision {
	log.WithFields(logrus.Fields{"path": path, "reason": reason}).Warn("Download denied")
	return r.decide(Decision{Outcome: Denied, Fee: fee, Path: path, Reason: reason})
}

func (r *Resolver) decide(d Decision) Decision {
	metrics.SettlementDecisions.WithLabelValues(string(d.Outcome), d.Path).Inc()
	return d
}
