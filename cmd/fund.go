package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/funding"
	"github.com/JakeFAU/leadfinder/internal/hash/sha256"
)

func newFundCmd() *cobra.Command {
	var (
		rawKey string
		ev     funding.Event
	)
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit a key directly against the configured ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ev.KeyHash == "" {
				h, err := apikey.Hash(sha256.New(), rawKey)
				if err != nil {
					return fmt.Errorf("--key or --key-hash is required: %w", err)
				}
				ev.KeyHash = h
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Fund(cmd.Context(), ev)
			if err != nil {
				return err
			}
			if res.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "event %s already applied\n", ev.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s free=%d paid=%d total=%d\n",
				ev.KeyHash, res.Balance.Free, res.Balance.Paid, res.Balance.Total())
			return nil
		},
	}
	cmd.Flags().StringVar(&rawKey, "key", "", "raw API key to credit")
	cmd.Flags().StringVar(&ev.KeyHash, "key-hash", "", "ledger identifier to credit, as printed by keyid")
	cmd.Flags().StringVar(&ev.Pool, "pool", "paid", "credit pool: free or paid")
	cmd.Flags().IntVar(&ev.Amount, "amount", 0, "number of credits to add")
	cmd.Flags().StringVar(&ev.ID, "event-id", "", "optional idempotency key")
	return cmd
}
