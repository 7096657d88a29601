package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/pipeline"
	"github.com/aluiziolira/go-auction-deals/query"
	"github.com/aluiziolira/go-auction-deals/refresh"
	"github.com/aluiziolira/go-auction-deals/scraper"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	var (
		params   = query.DefaultParams()
		budget   int
		limit    int
		snapshot string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one refresh and print the ranked deals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("snapshot") {
					cfg.SnapshotFile = snapshot
				}
				if cmd.Flags().Changed("format") {
					cfg.SnapshotFormat = format
				}
			})
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-budget") {
				params.MaxBudget = &budget
			}

			m := metrics.New()
			extractor, err := scraper.BuildExtractor(cfg, m)
			if err != nil {
				return err
			}
			coord := refresh.NewCoordinator(cmd.Context(), cfg, extractor, pipeline.NewBuilder(cfg, m), refresh.WithMetrics(m))

			start := time.Now()
			if err := coord.Refresh(cmd.Context(), refresh.TriggerManual); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			snap := coord.Snapshot()
			listings := query.Top(query.Filter(snap.Listings, params), limit)
			renderListings(cmd.OutOrStdout(), listings)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d listings match, scanned in %s\n",
				len(listings), len(snap.Listings), time.Since(start).Round(time.Millisecond))
			if cfg.SnapshotFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s (%s)\n", cfg.SnapshotFile, cfg.SnapshotFormat)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&params.CloseHours, "close-hours", query.DefaultCloseHours, "Only auctions ending within this many hours")
	flags.Float64Var(&params.MinDiscount, "min-discount", 0, "Minimum discount to estimated value, in percent")
	flags.IntVar(&budget, "max-budget", 0, "Maximum current bid in dollars")
	flags.BoolVar(&params.NoReserveOnly, "no-reserve", false, "Only no-reserve auctions")
	flags.IntVar(&limit, "limit", 25, "Maximum rows to print")
	flags.StringVar(&snapshot, "snapshot", "", "Also write the listings to this file")
	flags.StringVar(&format, "format", config.SnapshotJSON, "Snapshot format: csv, json, or dual")
	return cmd
}

func renderListings(w io.Writer, listings []*models.Listing) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Score", "Vehicle", "Bid", "Est. value", "Discount", "Ends in", "Bids", "No reserve"})

	for _, l := range listings {
		noReserve := ""
		if l.NoReserve {
			noReserve = "yes"
		}
		t.AppendRow(table.Row{
			l.DealScore,
			l.Title,
			fmt.Sprintf("$%d", l.CurrentBid),
			fmt.Sprintf("$%d", l.MarketValue),
			fmt.Sprintf("%d%%", l.DiscountPct),
			fmt.Sprintf("%.1fh", l.HoursLeft),
			l.BidCount,
			noReserve,
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 48},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
