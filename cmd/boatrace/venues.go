package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func newVenuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "venues",
		Short: "Lists the 24 venue codes",
		// The venue table is static; no services are needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, v := range race.Venues() {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", v.Code, v.Name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
