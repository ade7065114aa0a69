package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"call-audit-go/internal/app"
	"call-audit-go/internal/dataset"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/pipeline"
	"call-audit-go/internal/processor"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var agent, date string
	cmd := &cobra.Command{
		Use:   "run <audio>",
		Short: "Audit one recording with a live transcription job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app.App) error {
				return auditOne(cmd, a.LiveRunner(), args[0], agentOr(agent, a), date)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name (defaults to agent.default_name)")
	cmd.Flags().StringVar(&date, "date", "", "call date, YYYY-MM-DD (defaults to today)")
	return cmd
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	var agent, date, transcriptPath string
	cmd := &cobra.Command{
		Use:   "replay <audio>",
		Short: "Audit one recording against a saved transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app.App) error {
				return auditOne(cmd, a.ReplayRunner(transcriptPath), args[0], agentOr(agent, a), date)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name (defaults to agent.default_name)")
	cmd.Flags().StringVar(&date, "date", "", "call date, YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "transcription result JSON")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var manifest, out string
	var concurrency int
	var replay bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Audit every recording listed in an Excel manifest",
		Long: `Reads the first sheet of the manifest. The audio column is found by a
header containing audio, file, path or recording; agent and date columns
are optional. Relative audio paths are resolved against the manifest's
directory. A failed call is reported in its result and the batch goes on.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := dataset.LoadManifest(manifest)
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			return withApp(cmd.Context(), root, func(a *app.App) error {
				var r processor.Runner = a.LiveRunner()
				if replay {
					r = replayRunner{app: a}
				}
				results := processor.ProcessBatch(cmd.Context(), r, entries, processor.BatchOptions{
					Concurrency:  concurrency,
					DefaultAgent: a.Config.Agent.DefaultName,
					BaseDir:      filepath.Dir(manifest),
				})
				if out == "" {
					return printJSON(cmd.OutOrStdout(), results)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := printJSON(f, results); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "Excel manifest (.xlsx)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "calls audited in parallel")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write results JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&replay, "replay", false, "use <audio>.json next to each recording as its transcript")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

// replayRunner picks the saved transcript next to each recording.
type replayRunner struct {
	app *app.App
}

func (r replayRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	tr := req.AudioPath[:len(req.AudioPath)-len(filepath.Ext(req.AudioPath))] + ".json"
	return r.app.ReplayRunner(tr).Run(ctx, req)
}

func auditOne(cmd *cobra.Command, r *pipeline.Runner, audio, agent, date string) error {
	res, err := r.Run(cmd.Context(), pipeline.NewRequest(audio, agent, date))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func agentOr(agent string, a *app.App) string {
	if agent != "" {
		return agent
	}
	return a.Config.Agent.DefaultName
}

func withApp(ctx context.Context, root *rootOptions, fn func(*app.App) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.New().WithError(err).Warn("closing components")
		}
	}()
	return fn(a)
}
