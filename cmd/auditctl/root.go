package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"call-audit-go/internal/config"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "auditctl",
		Short: "Run call audits and manage stored reports",
		Long: `auditctl runs the call audit pipeline outside the HTTP service.

Configuration follows the service: built-in defaults, then the YAML file
given with --config (or CONFIG_FILE), then environment variables.

Examples:
  # Audit one recording
  auditctl run calls/0001.wav --agent alice --date 2025-12-01

  # Re-audit with a saved transcript, no AWS job
  auditctl replay calls/0001.wav --transcript calls/0001.json

  # Audit a manifest, four calls at a time
  auditctl batch --manifest calls/manifest.xlsx --concurrency 4

  # Export an agent's reports
  auditctl reports export --agent alice --out alice.xlsx`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", envOr("CONFIG_FILE", ""), "YAML config file")

	root.AddCommand(
		newRunCmd(opts),
		newReplayCmd(opts),
		newBatchCmd(opts),
		newReportsCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
