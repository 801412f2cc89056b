package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-sales-reports/internal/config"
	"github.com/imrishuroy/go-sales-reports/internal/orders"
	"github.com/imrishuroy/go-sales-reports/internal/report"
	"github.com/imrishuroy/go-sales-reports/internal/storage/badger"
)

type options struct {
	dbPath string
	seed   bool
	asJSON bool
}

// newRootCmd builds the salesreport command tree writing report output to out.
func newRootCmd(out io.Writer, cfg config.Config) *cobra.Command {
	opts := &options{}
	logger := cfg.Logger()

	rootCmd := &cobra.Command{
		Use:          "salesreport",
		Short:        "Sales aggregation reports over a customer/order dataset",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db-path", cfg.DBPath, "Badger directory holding the dataset (empty: in memory)")
	rootCmd.PersistentFlags().BoolVar(&opts.seed, "seed", false, "load the built-in seed dataset before running")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print rows as JSON")

	// withEngine opens the configured store, optionally seeds it and hands the engine to fn.
	withEngine := func(fn func(ctx context.Context, e *report.Engine) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := badger.Open(badger.Config{Path: opts.dbPath, SyncWrites: true, Logger: logger})
			if err != nil {
				return err
			}
			e := report.New(store, report.WithLogger(logger))
			defer e.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if opts.seed {
				if err := e.Load(ctx, orders.SeedDataset()); err != nil {
					return fmt.Errorf("load seed dataset: %w", err)
				}
			}
			return fn(ctx, e)
		}
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Store the built-in seed dataset at --db-path",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *report.Engine) error {
			if err := e.Load(ctx, orders.SeedDataset()); err != nil {
				return err
			}
			fmt.Fprintln(out, "seed dataset loaded")
			return nil
		}),
	}

	regionCmd := &cobra.Command{
		Use:   "region",
		Short: "Completed-order revenue per customer region",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *report.Engine) error {
			rows, err := e.RevenueByRegion(ctx)
			if err != nil {
				return err
			}
			return printRegions(out, rows, opts.asJSON)
		}),
	}

	customersCmd := &cobra.Command{
		Use:   "customers",
		Short: "Order count and total spent per customer",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *report.Engine) error {
			rows, err := e.CustomerOrderReport(ctx)
			if err != nil {
				return err
			}
			return printCustomers(out, rows, opts.asJSON)
		}),
	}

	monthlyCmd := &cobra.Command{
		Use:   "monthly",
		Short: "Completed-order revenue per calendar month",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *report.Engine) error {
			rows, err := e.MonthlyRevenue(ctx)
			if err != nil {
				return err
			}
			return printMonths(out, rows, opts.asJSON)
		}),
	}

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Run every report",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *report.Engine) error {
			regions, err := e.RevenueByRegion(ctx)
			if err != nil {
				return err
			}
			customers, err := e.CustomerOrderReport(ctx)
			if err != nil {
				return err
			}
			months, err := e.MonthlyRevenue(ctx)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(out, map[string]interface{}{
					report.ReportRevenueByRegion: regions,
					report.ReportCustomerOrders:  customers,
					report.ReportMonthlyRevenue:  months,
				})
			}
			if err := printRegions(out, regions, false); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := printCustomers(out, customers, false); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return printMonths(out, months, false)
		}),
	}

	rootCmd.AddCommand(seedCmd, regionCmd, customersCmd, monthlyCmd, allCmd)
	return rootCmd
}

func printRegions(out io.Writer, rows []report.RegionRevenue, asJSON bool) error {
	if asJSON {
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tTOTAL REVENUE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.Region, r.TotalRevenue.StringFixed(2))
	}
	return tw.Flush()
}

func printCustomers(out io.Writer, rows []report.CustomerOrders, asJSON bool) error {
	if asJSON {
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREGION\tORDERS\tTOTAL SPENT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.CustomerID, r.Name, r.Region, r.OrderCount, r.TotalSpent.StringFixed(2))
	}
	return tw.Flush()
}

func printMonths(out io.Writer, rows []report.MonthRevenue, asJSON bool) error {
	if asJSON {
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tREVENUE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.Month, r.Revenue.StringFixed(2))
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
