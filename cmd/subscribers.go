package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jackdeye/LAHacks/internal/model"
)

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Manage alert subscribers",
}

// -- subscribers list --

var subscribersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		region, _ := cmd.Flags().GetString("region")
		subs, err := st.ListSubscribers(ctx, region)
		if err != nil {
			return eris.Wrap(err, "subscribers list")
		}
		if len(subs) == 0 {
			fmt.Fprintln(os.Stderr, "No subscribers found.")
			return nil
		}

		formatSubscribers(os.Stdout, subs)
		return nil
	},
}

// -- subscribers add --

var subscribersAddCmd = &cobra.Command{
	Use:   "add <email> <region>",
	Short: "Subscribe an email address to a region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub := model.Subscriber{
			Email:  strings.TrimSpace(args[0]),
			Region: strings.TrimSpace(args[1]),
		}
		if err := validateSubscriber(sub); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateSubscriber(ctx, sub); err != nil {
			return eris.Wrap(err, "subscribers add")
		}
		fmt.Fprintf(os.Stdout, "Subscribed %s to %s.\n", sub.Email, sub.Region)
		return nil
	},
}

var subscriberValidate = validator.New()

func validateSubscriber(sub model.Subscriber) error {
	if err := subscriberValidate.Var(sub.Email, "required,email"); err != nil {
		return eris.Errorf("invalid email %q", sub.Email)
	}
	if err := subscriberValidate.Var(sub.Region, "required"); err != nil {
		return eris.New("region is required")
	}
	return nil
}

func formatSubscribers(out io.Writer, subs []model.Subscriber) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EMAIL\tREGION\tSUBSCRIBED")
	_, _ = fmt.Fprintln(w, "-----\t------\t----------")
	for _, s := range subs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Email, s.Region, s.CreatedAt.Format("2006-01-02"))
	}
	_ = w.Flush()
}

func init() {
	subscribersListCmd.Flags().String("region", "", "only subscribers of this region (exact, case-insensitive)")

	subscribersCmd.AddCommand(subscribersListCmd)
	subscribersCmd.AddCommand(subscribersAddCmd)
	rootCmd.AddCommand(subscribersCmd)
}
