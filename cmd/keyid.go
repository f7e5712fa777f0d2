package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/hash/sha256"
)

func newKeyIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "keyid <api key>",
		Short:       "Print the ledger identifier for a raw API key",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apikey.Hash(sha256.New(), args[0])
			if err != nil {
				return fmt.Errorf("keyid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
