package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Download and load the CDC wastewater files",
	Long:  "Fetches the county site file and the state level file, parses them, and upserts the rows. Each source is recorded as an ingestion run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		full, _ := cmd.Flags().GetBool("full")
		only, _ := cmd.Flags().GetStringSlice("only")

		loader := newLoader(cfg, st, newCLIMetrics(), cfg.Ingest.LatestOnly && !full)
		sum := loader.Run(ctx, only...)

		formatIngestSummary(os.Stdout, sum)
		zap.L().Info("ingest finished",
			zap.Int64("rows", sum.Rows()),
			zap.Int("failed", sum.Failed()),
		)
		if n := sum.Failed(); n > 0 {
			return eris.Errorf("ingest: %d of %d steps failed", n, len(sum.Steps))
		}
		return nil
	},
}

// formatIngestSummary writes one line per ingestion step to w.
func formatIngestSummary(out io.Writer, sum ingest.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tRUN\tROWS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "------\t---\t----\t--------\t-----")
	for _, step := range sum.Steps {
		errMsg := ""
		if step.Err != nil {
			errMsg = step.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			step.Source,
			truncateID(step.RunID),
			step.Rows,
			step.Duration.Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
}

func init() {
	ingestCmd.Flags().Bool("full", false, "keep every reporting week instead of only the latest per region")
	ingestCmd.Flags().StringSlice("only", nil, "restrict to these sources (county, state)")
	rootCmd.AddCommand(ingestCmd)
}
