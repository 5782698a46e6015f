package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jackdeye/LAHacks/internal/model"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Train, import, and list per-region forecasts",
}

// -- forecast train --

var forecastTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a forecast for every region with enough history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("forecast"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := newTrainer(cfg, st, newCLIMetrics()).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "forecast train")
		}
		fmt.Fprintf(os.Stdout, "Regions: %d  Written: %d  Skipped: %d\n", sum.Regions, sum.Written, sum.Skipped)
		return nil
	},
}

// -- forecast import --

var forecastImportCmd = &cobra.Command{
	Use:   "import <metrics.csv>",
	Short: "Replace stored forecasts with an externally trained metrics file",
	Long:  "Reads a CSV with State and week1..week4 columns (optionally mae and val_mae) and replaces every stored forecast.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "forecast import: open file")
		}
		defer f.Close() //nolint:errcheck

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := newTrainer(cfg, st, newCLIMetrics()).ImportCSV(ctx, f)
		if err != nil {
			return eris.Wrap(err, "forecast import")
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, "No usable rows found; stored forecasts unchanged.")
			return nil
		}
		zap.L().Info("forecasts imported", zap.String("file", args[0]), zap.Int("regions", n))
		fmt.Fprintf(os.Stdout, "Imported %d forecasts.\n", n)
		return nil
	},
}

// -- forecast list --

var forecastListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored forecasts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		forecasts, err := st.ListForecasts(ctx)
		if err != nil {
			return eris.Wrap(err, "forecast list")
		}
		if len(forecasts) == 0 {
			fmt.Fprintln(os.Stderr, "No forecasts found.")
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return writeForecasts(os.Stdout, forecasts, format)
	},
}

// forecastRow is the flat display form of a forecast.
type forecastRow struct {
	Region    string    `json:"state" yaml:"state"`
	Model     string    `json:"model" yaml:"model"`
	MAE       *float64  `json:"mae,omitempty" yaml:"mae,omitempty"`
	Weeks     []float64 `json:"weeks" yaml:"weeks"`
	TrainedAt string    `json:"trained_at" yaml:"trained_at"`
}

func toForecastRows(forecasts []model.Forecast) []forecastRow {
	rows := make([]forecastRow, 0, len(forecasts))
	for _, f := range forecasts {
		rows = append(rows, forecastRow{
			Region:    f.Region,
			Model:     f.Model,
			MAE:       f.MAE,
			Weeks:     f.Values(),
			TrainedAt: f.TrainedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return rows
}

// writeForecasts renders forecasts as table, json, or yaml.
func writeForecasts(out io.Writer, forecasts []model.Forecast, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		formatForecastTable(out, forecasts)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toForecastRows(forecasts))
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(toForecastRows(forecasts)); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown format %q (want table, json, or yaml)", format)
	}
}

func formatForecastTable(out io.Writer, forecasts []model.Forecast) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATE\tMODEL\tMAE\tWEEK1\tWEEK2\tWEEK3\tWEEK4\tTRAINED")
	_, _ = fmt.Fprintln(w, "-----\t-----\t---\t-----\t-----\t-----\t-----\t-------")
	for _, f := range forecasts {
		mae := "-"
		if f.MAE != nil {
			mae = fmt.Sprintf("%.3f", *f.MAE)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			f.Region,
			f.Model,
			mae,
			f.Weeks[0], f.Weeks[1], f.Weeks[2], f.Weeks[3],
			f.TrainedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	forecastListCmd.Flags().String("format", "table", "output format (table, json, yaml)")

	forecastCmd.AddCommand(forecastTrainCmd)
	forecastCmd.AddCommand(forecastImportCmd)
	forecastCmd.AddCommand(forecastListCmd)
	rootCmd.AddCommand(forecastCmd)
}
