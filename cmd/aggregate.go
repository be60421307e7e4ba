package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aircheck-labs/aircheck-cli/internal/royalty"
)

var aggregateDryRun bool

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Settle raw matches into play logs and royalties",
	Long:  "Claims unprocessed raw matches, groups them per track and station, and settles each valid group: ledger transfer, play log, matches marked processed, all in one transaction. With --dry-run, reports what would settle without touching balances.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		agg, err := initAggregator(st)
		if err != nil {
			return err
		}

		summary, err := runAggregation(ctx, agg, aggregateDryRun)
		if err != nil {
			return err
		}

		verb := "settled"
		if aggregateDryRun {
			verb = "would settle"
		}
		fmt.Printf("%d groups claimed: %s %d (total %s), consumed %d, released %d\n",
			summary.Groups, verb, summary.Settled,
			summary.TotalRoyalty.StringFixed(2), summary.Consumed, summary.Released)
		return nil
	},
}

func runAggregation(ctx context.Context, agg *royalty.Aggregator, dry bool) (*royalty.Summary, error) {
	if dry {
		return agg.DryRun(ctx)
	}
	return agg.Run(ctx)
}

func init() {
	aggregateCmd.Flags().BoolVar(&aggregateDryRun, "dry-run", false, "evaluate groups without settling")
	rootCmd.AddCommand(aggregateCmd)
}
