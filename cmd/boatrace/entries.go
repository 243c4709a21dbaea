package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func newEntriesCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "entries VENUE RACE",
		Short: "Collects the entry list of one race and prints it as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			venue := args[0]
			if !race.ValidVenue(venue) {
				return fmt.Errorf("%w: %q", race.ErrInvalidVenue, venue)
			}
			number, err := strconv.Atoi(args[1])
			if err != nil || !race.ValidRaceNumber(number) {
				return fmt.Errorf("race number must be 1-%d, got %q", race.MaxRaceNumber, args[1])
			}

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

			result := appInstance.Collector.FetchRaceEntries(cmd.Context(), venue, number, date)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Status != race.ResultSuccess {
				return errors.New(result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "race day as YYYYMMDD (default today)")
	return cmd
}
