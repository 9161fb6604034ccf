// Package signature verifies wallet signatures presented with download
// requests: plain EIP-191 messages for credit downloads and EIP-712 typed
// payment authorizations for one-shot payments.
package signature

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain constants
const (
	DomainName    = "Nano Storage"
	DomainVersion = "1"
)

// PaymentMessage is the typed payload a wallet signs to pay for one download.
type PaymentMessage struct {
	FileID    string
	Amount    *big.Int // Fee in the token's smallest denomination
	Nonce     string
	Timestamp int64 // Unix milliseconds
}

// Verifier checks signatures against a fixed EIP-712 domain.
type Verifier struct {
	chainID           int64
	verifyingContract string
	window            time.Duration
}

// NewVerifier returns a verifier for the given chain and payment contract.
// window bounds how far a payment timestamp may be from now, in either direction.
func NewVerifier(chainID int64, paymentContract string, window time.Duration) *Verifier {
	if !common.IsHexAddress(paymentContract) {
		paymentContract = common.Address{}.Hex()
	}
	return &Verifier{chainID: chainID, verifyingContract: paymentContract, window: window}
}

// DownloadMessage is the text a wallet signs to spend prepaid credit on a file.
func DownloadMessage(fileID string) string {
	return "Download " + fileID
}

// VerifyWalletSignature reports whether sig is an EIP-191 signature of message
// by walletID.
func (v *Verifier) VerifyWalletSignature(message, sig, walletID string) bool {
	signer, err := recoverAddress(accounts.TextHash([]byte(message)), sig)
	return err == nil && strings.EqualFold(signer.Hex(), walletID)
}

// VerifyPaymentSignature reports whether sig is an EIP-712 signature of msg by
// walletID. The timestamp window is checked separately by TimestampValid.
func (v *Verifier) VerifyPaymentSignature(msg PaymentMessage, sig, walletID string) bool {
	digest, err := v.PaymentDigest(msg)
	if err != nil {
		return false
	}
	signer, err := recoverAddress(digest, sig)
	return err == nil && strings.EqualFold(signer.Hex(), walletID)
}

// TimestampValid reports whether ts (unix milliseconds) lies within the
// validity window around now.
func (v *Verifier) TimestampValid(ts int64, now time.Time) bool {
	diff := now.Sub(time.UnixMilli(ts))
	if diff < 0 {
		diff = -diff
	}
	return diff <= v.window
}

// PaymentDigest returns the EIP-712 hash of msg under the verifier's domain.
func (v *Verifier) PaymentDigest(msg PaymentMessage) ([]byte, error) {
	amount := msg.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Payment": {
				{Name: "fileId", Type: "string"},
				{Name: "amount", Type: "uint256"},
				{Name: "nonce", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "Payment",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(v.chainID),
			VerifyingContract: v.verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"fileId":    msg.FileID,
			"amount":    amount,
			"nonce":     msg.Nonce,
			"timestamp": big.NewInt(msg.Timestamp),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash payment message: %w", err)
	}
	return digest, nil
}

// SignPayment signs msg with key, producing the hex signature expected in the
// X-Payment-Signature header.
func (v *Verifier) SignPayment(msg PaymentMessage, key *ecdsa.PrivateKey) (string, error) {
	digest, err := v.PaymentDigest(msg)
	if err != nil {
		return "", err
	}
	return sign(digest, key)
}

// SignMessage produces an EIP-191 signature of message, as sent in the
// X-Wallet-Signature header.
func SignMessage(message string, key *ecdsa.PrivateKey) (string, error) {
	return sign(accounts.TextHash([]byte(message)), key)
}

func sign(digest []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27 // wallets emit v in {27, 28}
	return hexutil.Encode(sig), nil
}

func recoverAddress(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
