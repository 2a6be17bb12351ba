package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/BTreeMap/CarPulse/internal/api"
	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/lockfile"
	"github.com/BTreeMap/CarPulse/internal/messaging"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
	"github.com/spf13/cobra"
)

func newChatCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot on the terminal",
		Long:  "Reads messages from standard input, one per line, and prints the bot's replies. Charts are written to the chart directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfg.ChartDir, "chart-dir", cfg.ChartDir, "directory for rendered charts (overrides $CHART_DIR)")
	return cmd
}

// runChat runs one console conversation until the input ends or ctx is cancelled.
func runChat(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	b, err := openBot(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	svc := messaging.NewConsoleService(in, out, cfg.ChartDir)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	messaging.NewDispatcher(svc, b.engine).Run(ctx)
	return svc.Stop()
}

func newVehiclesCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "Inspect and edit the vehicle catalog",
	}
	cmd.AddCommand(newVehiclesListCmd(cfg), newVehiclesShowCmd(cfg), newVehiclesUpsertCmd(cfg))
	return cmd
}

func newVehiclesListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the vehicles in catalog order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			return printVehicles(cmd.OutOrStdout(), catalog)
		},
	}
}

// printVehicles writes the catalog as an aligned table.
func printVehicles(w io.Writer, catalog *store.CatalogStore) error {
	c, history := catalog.Snapshot()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRICE\tHP\tFUEL ECONOMY\tYEAR\tENGINE\tCOUNTRY\tPRICES")
	for _, v := range c.Vehicles() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			v.Name, v.Price, v.Horsepower, v.FuelEconomy, v.Year, v.EngineType, v.Country, joinPrices(history[v.Name]))
	}
	return tw.Flush()
}

func newVehiclesShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show one vehicle with its price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			v, ok := catalog.Vehicle(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", models.ErrUnknownVehicle, args[0])
			}
			points, err := catalog.History().SeriesFor(catalog.Periods(), v.Name, models.AllPeriods)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d)\n", v.Name, v.Year)
			fmt.Fprintf(out, "Price: $%d\nHorsepower: %d\nFuel economy: %s\nEngine: %s\nCountry: %s\n",
				v.Price, v.Horsepower, v.FuelEconomy, v.EngineType, v.Country)
			for _, p := range points {
				fmt.Fprintf(out, "  %s: $%d\n", p.Period, p.Price)
			}
			return nil
		},
	}
}

func newVehiclesUpsertCmd(cfg *Config) *cobra.Command {
	var (
		v      models.Vehicle
		prices string
	)
	cmd := &cobra.Command{
		Use:   "upsert NAME",
		Short: "Add a vehicle or replace an existing one and save the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v.Name = args[0]
			series, err := store.ParseSeries(prices)
			if err != nil {
				return err
			}
			if err := ensureDirectoriesExist(cfg); err != nil {
				return err
			}
			lock, err := lockfile.AcquireLock(cfg.StateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if err := catalog.Upsert(v, series); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", v.Name, catalog.Path())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&v.Price, "price", 0, "current price")
	f.IntVar(&v.Horsepower, "horsepower", 0, "horsepower")
	f.StringVar(&v.FuelEconomy, "fuel-economy", "", "fuel economy, e.g. \"28 MPG\"")
	f.IntVar(&v.Year, "year", 0, "model year")
	f.StringVar(&v.EngineType, "engine-type", "", "engine type")
	f.StringVar(&v.Country, "country", "", "country of origin")
	f.StringVar(&prices, "prices", "", "space-separated price history, oldest first; padded with the current price")
	return cmd
}

func newChartCmd(cfg *Config) *cobra.Command {
	var (
		window string
		output string
	)
	cmd := &cobra.Command{
		Use:   "chart NAME [NAME...]",
		Short: "Render a price chart to a PNG file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := api.ParseWindow(window)
			if err != nil {
				return err
			}
			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			path, err := renderChartFile(catalog, args, w, output)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "", "number of most recent periods, or \"all\"")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to the chart file name in the current directory)")
	return cmd
}

// renderChartFile renders the chart of names and writes it to output.
func renderChartFile(catalog *store.CatalogStore, names []string, w models.Window, output string) (string, error) {
	image, err := chart.NewRenderer(catalog).Render(names, w)
	if err != nil {
		return "", err
	}
	if output == "" {
		output = chart.Filename(names)
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(output, image, 0644); err != nil {
		return "", fmt.Errorf("failed to write chart %s: %w", output, err)
	}
	return output, nil
}

func joinPrices(prices []int) string {
	parts := make([]string, len(prices))
	for i, p := range prices {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, " ")
}
