// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"call-audit-go/internal/audio"
	"call-audit-go/internal/classifier"
	"call-audit-go/internal/events"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/metrics"
	"call-audit-go/internal/report"
	"call-audit-go/internal/types"
)

// Stage names a step of a run. It labels metrics and StageError.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageTranscribe Stage = "transcribe"
	StageFeatures   Stage = "features"
	StageRules      Stage = "rules"
	StageTone       Stage = "tone"
	StageClassify   Stage = "classify"
	StagePersist    Stage = "persist"
)

// StageError identifies the first failing stage of a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Request carries everything one run needs. It is built once and never
// mutated, so concurrent runs share nothing through it.
type Request struct {
	RunID     string `json:"run_id"`
	AudioPath string `json:"audio_path"`
	Agent     string `json:"agent"`
	Date      string `json:"date"`
	FileName  string `json:"file_name"`
}

// NewRequest fills in a run id, today's date when date is empty and the
// audio file's base name.
func NewRequest(audioPath, agent, date string) Request {
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	return Request{
		RunID:     uuid.NewString(),
		AudioPath: audioPath,
		Agent:     agent,
		Date:      date,
		FileName:  filepath.Base(audioPath),
	}
}

// ValidateDate accepts only calendar dates in YYYY-MM-DD form. Stores order
// reports by comparing dates as strings.
func ValidateDate(date string) error {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("%w: got %q", types.ErrInvalidDate, date)
	}
	return nil
}

// TranscriptSource yields the transcript for an asset, either from a live
// transcription job or from a saved transcript.
type TranscriptSource interface {
	Transcript(ctx context.Context, asset types.AudioAsset) (types.Transcript, error)
}

type FeatureExtractor interface {
	Extract(ctx context.Context, asset types.AudioAsset) (types.AudioFeatures, error)
}

type ViolationChecker interface {
	Check(ctx context.Context, t types.Transcript) (types.ViolationReport, error)
}

type ToneAnalyzer interface {
	Analyze(ctx context.Context, t types.Transcript) (string, types.ToneScores, error)
}

type Classifier interface {
	Classify(ctx context.Context, in classifier.Inputs) (types.ClassificationResult, error)
}

type ReportSaver interface {
	Save(ctx context.Context, agent, date, file string, report types.AuditReport) error
}

type EventPublisher interface {
	PublishAudit(ctx context.Context, ev events.AuditCompleted) error
}

// PersistencePolicy decides whether a failed save fails the run.
type PersistencePolicy string

const (
	BestEffort PersistencePolicy = "best-effort"
	Strict     PersistencePolicy = "strict"
)

func ParsePolicy(s string) (PersistencePolicy, error) {
	switch PersistencePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case BestEffort, "":
		return BestEffort, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("unknown persistence policy %q", s)
}

// Deps wires a Runner. Store and Publisher may be nil.
type Deps struct {
	Source     TranscriptSource
	Features   FeatureExtractor
	Checker    ViolationChecker
	Tone       ToneAnalyzer
	Classifier Classifier
	Store      ReportSaver
	Publisher  EventPublisher
	Policy     PersistencePolicy
}

type Runner struct {
	deps    Deps
	metrics *metrics.Metrics
}

func New(d Deps) *Runner {
	if d.Policy == "" {
		d.Policy = BestEffort
	}
	return &Runner{deps: d, metrics: metrics.DefaultMetrics}
}

// Result is returned for every successful run.
type Result struct {
	Report     types.AuditReport `json:"report"`
	JobName    string            `json:"job_name,omitempty"`
	Persisted  bool              `json:"persisted"`
	Warnings   []string          `json:"warnings,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// Run executes one audit. It returns either a complete report or a single
// *StageError naming the first stage that failed.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := logger.New().WithRun(req.RunID, req.Agent, req.FileName)
	log.Info("audit run started")

	res, err := r.run(ctx, req, log)
	secs := time.Since(start).Seconds()
	if err != nil {
		outcome := "error"
		var se *StageError
		if errors.As(err, &se) {
			outcome = string(se.Stage)
		}
		r.metrics.RecordRun(outcome, secs)
		log.WithError(err).Error("audit run failed")
		return Result{}, err
	}
	res.DurationMs = time.Since(start).Milliseconds()
	r.metrics.RecordRun("ok", secs)
	log.WithFields(logrus.Fields{
		"status":      res.Report.Classification.Status,
		"confidence":  res.Report.Classification.Confidence,
		"violations":  res.Report.RuleViolations.Count(),
		"persisted":   res.Persisted,
		"duration_ms": res.DurationMs,
	}).Info("audit run complete")
	return res, nil
}

func (r *Runner) run(ctx context.Context, req Request, log *logrus.Entry) (Result, error) {
	var asset types.AudioAsset
	if err := r.stage(StageValidate, func() (err error) {
		if asset, err = audio.Validate(req.AudioPath); err != nil {
			return err
		}
		return ValidateDate(req.Date)
	}); err != nil {
		return Result{}, err
	}

	var transcript types.Transcript
	if err := r.stage(StageTranscribe, func() (err error) {
		transcript, err = r.deps.Source.Transcript(ctx, asset)
		return err
	}); err != nil {
		return Result{}, err
	}
	log.WithField("utterances", len(transcript.Utterances)).WithField("job", transcript.JobName).Debug("transcript ready")

	var (
		feats      types.AudioFeatures
		violations types.ViolationReport
		toneLabel  string
		toneScores types.ToneScores
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.stage(StageFeatures, func() (err error) {
			feats, err = r.deps.Features.Extract(gctx, asset)
			return err
		})
	})
	g.Go(func() error {
		return r.stage(StageRules, func() (err error) {
			violations, err = r.deps.Checker.Check(gctx, transcript)
			return err
		})
	})
	g.Go(func() error {
		return r.stage(StageTone, func() (err error) {
			toneLabel, toneScores, err = r.deps.Tone.Analyze(gctx, transcript)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var cls types.ClassificationResult
	if err := r.stage(StageClassify, func() (err error) {
		cls, err = r.deps.Classifier.Classify(ctx, classifier.Inputs{
			Features:       feats,
			ViolationCount: violations.Count(),
			Tone:           toneScores,
		})
		return err
	}); err != nil {
		return Result{}, err
	}

	rep := report.Assemble(report.Inputs{
		Features:       feats,
		Violations:     violations,
		ToneLabel:      toneLabel,
		ToneScores:     toneScores,
		Classification: cls,
		Provenance: types.Provenance{
			AgentName: req.Agent,
			CallDate:  req.Date,
			FileName:  req.FileName,
			JobName:   transcript.JobName,
			RunID:     req.RunID,
		},
	})
	res := Result{Report: rep, JobName: transcript.JobName}

	if err := r.persist(ctx, req, rep, log); err != nil {
		if r.deps.Policy == Strict {
			return Result{}, &StageError{Stage: StagePersist, Err: fmt.Errorf("%w: %v", types.ErrPersistence, err)}
		}
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %v", types.ErrPersistenceWarning, err).Error())
	} else {
		res.Persisted = r.deps.Store != nil
	}

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.PublishAudit(ctx, events.NewAuditCompleted(rep, res.Persisted)); err != nil {
			log.WithError(err).Warn("audit event not published")
		}
	}
	return res, nil
}

func (r *Runner) persist(ctx context.Context, req Request, rep types.AuditReport, log *logrus.Entry) error {
	if r.deps.Store == nil {
		return nil
	}
	start := time.Now()
	err := r.save(ctx, req, rep)
	r.metrics.RecordStage(string(StagePersist), time.Since(start).Seconds(), err)
	if err != nil {
		r.metrics.PersistenceFailures.Inc()
		log.WithError(err).WithField("policy", r.deps.Policy).Warn("report not persisted")
	}
	return err
}

// save turns a panicking store into an ordinary save error.
func (r *Runner) save(ctx context.Context, req Request, rep types.AuditReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("store panicked: %v", p)
		}
	}()
	return r.deps.Store.Save(ctx, req.Agent, req.Date, req.FileName, rep)
}

// stage times fn and wraps its error.
func (r *Runner) stage(name Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.RecordStage(string(name), time.Since(start).Seconds(), err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}
