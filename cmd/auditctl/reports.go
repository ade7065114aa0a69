package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"call-audit-go/internal/actionable"
	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/dataset"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/store"
)

func newReportsCmd(root *rootOptions) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List, summarize, export or delete an agent's reports",
	}
	cmd.PersistentFlags().StringVar(&agent, "agent", "", "agent name")
	_ = cmd.MarkPersistentFlagRequired("agent")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print an agent's reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), root, func(st store.Store) error {
				recs, err := st.List(cmd.Context(), agent)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Print aggregate metrics and a coaching card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), root, func(st store.Store) error {
				recs, err := st.List(cmd.Context(), agent)
				if err != nil {
					return err
				}
				sum := aggregator.Aggregate(agent, recs)
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"summary":     sum,
					"action_card": actionable.Generate(sum),
				})
			})
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write an agent's reports to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = agent + "_reports.xlsx"
			}
			return withStore(cmd.Context(), root, func(st store.Store) error {
				recs, err := st.List(cmd.Context(), agent)
				if err != nil {
					return err
				}
				if err := dataset.WriteReports(out, agent, recs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d reports to %s\n", len(recs), out)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output workbook (default <agent>_reports.xlsx)")

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete every report of an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete reports of %q without --yes", agent)
			}
			return withStore(cmd.Context(), root, func(st store.Store) error {
				n, err := st.DeleteAgent(cmd.Context(), agent)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reports of %s\n", n, agent)
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")

	cmd.AddCommand(list, summary, export, del)
	return cmd
}

// withStore opens only the report store, so report commands work without
// AWS credentials.
func withStore(ctx context.Context, root *rootOptions, fn func(store.Store) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.New().WithError(err).Warn("closing store")
		}
	}()
	return fn(st)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
