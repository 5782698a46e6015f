package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jackdeye/LAHacks/internal/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Classify regional trends and email subscribers",
	Long:  "Runs the alert job once: each region is classified from its recent readings and forecast, and subscribers of alerting regions are emailed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("notify"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		sum, err := newNotifyJob(cfg, st, newCLIMetrics(), dryRun).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "notify")
		}

		formatNotifySummary(os.Stdout, sum)
		return nil
	},
}

// formatNotifySummary writes the alerting regions and delivery totals to w.
func formatNotifySummary(out io.Writer, sum notify.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(sum.Alerts) > 0 {
		_, _ = fmt.Fprintln(w, "REGION\tTIER\tRECIPIENTS")
		_, _ = fmt.Fprintln(w, "------\t----\t----------")
		for _, a := range sum.Alerts {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", a.Region, a.Tier, a.Recipients)
		}
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "Regions:\t%d\n", sum.Regions)
	_, _ = fmt.Fprintf(w, "Undecided:\t%d\n", sum.Undecided)
	_, _ = fmt.Fprintf(w, "Alerts:\t%d\n", len(sum.Alerts))
	if sum.DryRun {
		_, _ = fmt.Fprintln(w, "Sent:\tnone (dry run)")
	} else {
		_, _ = fmt.Fprintf(w, "Sent:\t%d\n", sum.Sent)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", sum.Failed)
	}
	_ = w.Flush()
}

func init() {
	notifyCmd.Flags().Bool("dry-run", false, "classify and log alerts without sending email")
	rootCmd.AddCommand(notifyCmd)
}
