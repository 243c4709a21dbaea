package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func newCollectCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collects one day's schedule for every open venue and prints it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if date == "" {
				date = appInstance.Today()
			}
			if !race.ValidDate(date) {
				return fmt.Errorf("%w: %q", race.ErrInvalidDate, date)
			}
			result := appInstance.Collector.FetchDailySchedule(cmd.Context(), date)
			appInstance.Logger().Info("collection finished",
				zap.String("date", date),
				zap.Int("races", len(result.Entries)),
				zap.String("source", string(result.Source)),
				zap.String("fallback", string(result.Fallback)))
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "race day as YYYYMMDD (default today)")
	return cmd
}
