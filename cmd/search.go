package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadfinder/internal/enrich"
)

func newSearchCmd() *cobra.Command {
	var req enrich.Request
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one metered search and print the JSON response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := appInstance.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Keyword, "keyword", "", "what to search for, e.g. カフェ")
	cmd.Flags().StringVar(&req.Location, "location", "", "where to search, e.g. 渋谷")
	cmd.Flags().StringVar(&req.APIKey, "key", "", "Places API key; also identifies the credit account")
	return cmd
}
