// internal/processor/batch_processor.go
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"call-audit-go/internal/dataset"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/pipeline"
)

// CallResult is the per-call outcome of a batch run.
type CallResult struct {
	Row        int      `json:"row"`
	AudioPath  string   `json:"audio_path"`
	Agent      string   `json:"agent"`
	Date       string   `json:"date"`
	RunID      string   `json:"run_id"`
	JobName    string   `json:"job_name,omitempty"`
	Status     string   `json:"status,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Violations int      `json:"violations"`
	Reason     string   `json:"reason,omitempty"`
	Persisted  bool     `json:"persisted"`
	Warnings   []string `json:"warnings,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

// Runner is satisfied by *pipeline.Runner.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type BatchOptions struct {
	// Concurrency caps parallel runs; values below 1 mean 1.
	Concurrency  int
	DefaultAgent string
	// BaseDir resolves relative audio paths, usually the manifest's directory.
	BaseDir string
}

// ProcessBatch runs the pipeline for every manifest entry. A failed call is
// recorded in its CallResult and does not stop the batch. Results keep
// manifest order.
func ProcessBatch(ctx context.Context, r Runner, entries []dataset.ManifestEntry, opts BatchOptions) []CallResult {
	log := logger.New().WithField("component", "batch-processor")
	results := make([]CallResult, len(entries))

	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, e := range entries {
		g.Go(func() error {
			results[i] = processOne(gctx, r, e, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	log.WithField("calls", len(entries)).WithField("failed", failed).Info("batch complete")
	return results
}

func processOne(ctx context.Context, r Runner, e dataset.ManifestEntry, opts BatchOptions) CallResult {
	start := time.Now()

	path := e.AudioPath
	if opts.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(opts.BaseDir, path)
	}
	agent := e.Agent
	if agent == "" {
		agent = opts.DefaultAgent
	}
	req := pipeline.NewRequest(path, agent, e.Date)
	res := CallResult{Row: e.Row, AudioPath: e.AudioPath, Agent: req.Agent, Date: req.Date, RunID: req.RunID}

	if err := ctx.Err(); err != nil {
		res.Error = fmt.Sprintf("skipped: %v", err)
		return res
	}
	if err := pipeline.ValidateDate(req.Date); err != nil {
		res.Error = fmt.Sprintf("row %d: %v", e.Row, err)
		return res
	}

	out, err := r.Run(ctx, req)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	rep := out.Report
	res.JobName = out.JobName
	res.Status = rep.Classification.Status
	res.Confidence = rep.Classification.Confidence
	res.Reason = rep.Classification.Reason
	res.Violations = rep.RuleViolations.Count()
	res.Persisted = out.Persisted
	res.Warnings = out.Warnings
	return res
}
