package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nano_storage/internal/app"
	"nano_storage/internal/config"
	"nano_storage/internal/domain"
	"nano_storage/internal/metrics"
	"nano_storage/internal/utils"
)

func init() {
	rootCmd.AddCommand(runFeesCmd)
	rootCmd.AddCommand(sweepNoncesCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(tokenCmd)

	sweepNoncesCmd.Flags().Duration("retention", 0, "Keep payment records younger than this (default from NONCE_RETENTION)")

	tokenCmd.Flags().String("subject", "settlectl", "Token subject")
	tokenCmd.Flags().StringSlice("scope", []string{utils.ScopeCron}, "Granted scopes (cron, listener)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

var runFeesCmd = &cobra.Command{
	Use:   "run-fees",
	Short: "Run one storage fee pass and print its report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report, err := a.Scheduler.RunStorageFeePass(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var sweepNoncesCmd = &cobra.Command{
	Use:   "sweep-nonces",
	Short: "Delete expired payment records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, _ := cmd.Flags().GetDuration("retention")
		return withApp(cmd.Context(), func(a *app.App) error {
			if retention <= 0 {
				retention = a.Config.NonceRetention
			}
			deleted, err := a.Nonces.SweepExpired(cmd.Context(), retention)
			if err != nil {
				return err
			}
			metrics.NoncesSwept.Add(float64(deleted))
			fmt.Fprintf(os.Stdout, "deleted %d payment records older than %s\n", deleted, retention)
			return nil
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance WALLET",
	Short: "Print a wallet's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := domain.NormalizeWallet(args[0])
		return withApp(cmd.Context(), func(a *app.App) error {
			balance, err := a.Ledger.GetBalance(cmd.Context(), walletID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"walletId": walletID, "creditBalance": balance})
		})
	},
}

// tokenCmd only needs the signing secret, so it skips the database.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a service token for the cron or listener endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		scopes, _ := cmd.Flags().GetStringSlice("scope")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		secret := config.LoadConfig().JWTSecret
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		token, err := utils.GenerateServiceToken(subject, scopes, ttl, secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}
