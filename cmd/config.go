package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackdeye/LAHacks/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML, secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, _ := cmd.Flags().GetString("validate")
		if cmd.Flags().Changed("validate") {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}
		return writeConfig(os.Stdout, cfg)
	},
}

func writeConfig(out io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return eris.Wrap(err, "encode config")
	}
	return enc.Close()
}

func init() {
	configCmd.Flags().String("validate", "", "also validate for a command (serve, ingest, forecast, notify)")
	rootCmd.AddCommand(configCmd)
}
