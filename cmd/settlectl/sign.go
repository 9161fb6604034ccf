package main

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nano_storage/internal/config"
	"nano_storage/internal/payment"
	"nano_storage/internal/pricing"
	"nano_storage/internal/signature"
)

// Signing helpers produce the headers a wallet client would send, for manual
// testing against a running server.

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.AddCommand(signDownloadCmd)
	signCmd.AddCommand(signPaymentCmd)

	signCmd.PersistentFlags().String("key", "", "Hex private key of the paying wallet (or WALLET_PRIVATE_KEY)")
	signPaymentCmd.Flags().String("amount", "", "Fee in tokens, as quoted by the payment challenge")
	signPaymentCmd.Flags().String("nonce", "", "Nonce from the payment challenge")
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Produce wallet signatures for download requests",
}

var signDownloadCmd = &cobra.Command{
	Use:   "download FILE_ID",
	Short: "Sign a credit download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := walletKey(cmd)
		if err != nil {
			return err
		}
		sig, err := signature.SignMessage(signature.DownloadMessage(args[0]), key)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", payment.HeaderWalletSignature, sig)
		return nil
	},
}

var signPaymentCmd = &cobra.Command{
	Use:   "payment FILE_ID",
	Short: "Sign a one-shot payment authorization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := walletKey(cmd)
		if err != nil {
			return err
		}
		amountFlag, _ := cmd.Flags().GetString("amount")
		nonce, _ := cmd.Flags().GetString("nonce")
		amount, err := decimal.NewFromString(amountFlag)
		if err != nil || !amount.IsPositive() {
			return fmt.Errorf("invalid --amount %q", amountFlag)
		}
		if nonce == "" {
			return fmt.Errorf("--nonce is required")
		}

		cfg := config.LoadConfig()
		msg := signature.PaymentMessage{
			FileID:    args[0],
			Amount:    pricing.ToUnits(amount, cfg.TokenDecimals),
			Nonce:     nonce,
			Timestamp: time.Now().UnixMilli(),
		}
		verifier := signature.NewVerifier(cfg.ChainID, cfg.PaymentContract, cfg.SignatureWindow)
		sig, err := verifier.SignPayment(msg, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", payment.HeaderPaymentSignature, sig)
		fmt.Fprintf(os.Stdout, "%s: %s\n", payment.HeaderPaymentNonce, nonce)
		fmt.Fprintf(os.Stdout, "%s: %d\n", payment.HeaderPaymentTimestamp, msg.Timestamp)
		return nil
	},
}

func walletKey(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	hexKey, _ := cmd.Flags().GetString("key")
	if hexKey == "" {
		hexKey = os.Getenv("WALLET_PRIVATE_KEY")
	}
	if hexKey == "" {
		return nil, fmt.Errorf("--key or WALLET_PRIVATE_KEY is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
