package signature

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPaymentContract = "0x00000000000000000000000000000000000000cc"

func TestVerifyWalletSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	v := NewVerifier(41500, testPaymentContract, 5*time.Minute)

	sig, err := SignMessage(DownloadMessage("file-1"), key)
	require.NoError(t, err)

	assert.True(t, v.VerifyWalletSignature("Download file-1", sig, wallet))
	assert.False(t, v.VerifyWalletSignature("Download file-2", sig, wallet))
	assert.False(t, v.VerifyWalletSignature("Download file-1", sig, "0x0000000000000000000000000000000000000001"))
	assert.False(t, v.VerifyWalletSignature("Download file-1", "0x1234", wallet))
	assert.False(t, v.VerifyWalletSignature("Download file-1", "not-hex", wallet))
}

func TestVerifyPaymentSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	v := NewVerifier(41500, testPaymentContract, 5*time.Minute)

	msg := PaymentMessage{FileID: "file-1", Amount: big.NewInt(10000), Nonce: "abc", Timestamp: time.Now().UnixMilli()}
	sig, err := v.SignPayment(msg, key)
	require.NoError(t, err)

	assert.True(t, v.VerifyPaymentSignature(msg, sig, wallet))

	tampered := msg
	tampered.Amount = big.NewInt(1)
	assert.False(t, v.VerifyPaymentSignature(tampered, sig, wallet))

	otherChain := NewVerifier(1, testPaymentContract, 5*time.Minute)
	assert.False(t, otherChain.VerifyPaymentSignature(msg, sig, wallet))
}

func TestTimestampValidIsSymmetric(t *testing.T) {
	v := NewVerifier(41500, testPaymentContract, 5*time.Minute)
	now := time.Now()

	assert.True(t, v.TimestampValid(now.UnixMilli(), now))
	assert.True(t, v.TimestampValid(now.Add(-4*time.Minute).UnixMilli(), now))
	assert.True(t, v.TimestampValid(now.Add(4*time.Minute).UnixMilli(), now))
	assert.False(t, v.TimestampValid(now.Add(-6*time.Minute).UnixMilli(), now))
	assert.False(t, v.TimestampValid(now.Add(6*time.Minute).UnixMilli(), now))
}
