package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/metrics"
	"call-audit-go/internal/types"
)

type SubmitRequest struct {
	JobName  string
	MediaURI string
	Format   string
	Language string
}

// JobStatus is one observation of a remote job.
type JobStatus struct {
	State         types.JobState
	ResultURI     string
	FailureReason string
}

// Service is the managed speech-to-text job API.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) error
	Poll(ctx context.Context, jobName string) (JobStatus, error)
}

// Uploader stages a recording where the Service can read it.
type Uploader interface {
	Upload(ctx context.Context, key string, asset types.AudioAsset) (uri string, err error)
	Remove(ctx context.Context, uri string) error
}

// Fetcher downloads the finished transcript document.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

type Options struct {
	Language      string
	PollInterval  time.Duration
	MaxWait       time.Duration
	SubmitRetries int
	MaxPollErrors int
	// RetryInterval is the first backoff step for upload and submit retries.
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Language == "" {
		o.Language = "en-US"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 15 * time.Minute
	}
	if o.SubmitRetries < 0 {
		o.SubmitRetries = 0
	}
	if o.MaxPollErrors <= 0 {
		o.MaxPollErrors = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	return o
}

// Manager drives one transcription job per call from upload to a terminal
// state. It holds no per-job state, so one Manager serves concurrent runs.
type Manager struct {
	uploader Uploader
	service  Service
	fetcher  Fetcher
	names    *NameGenerator
	opts     Options
	metrics  *metrics.Metrics
}

func NewManager(up Uploader, svc Service, f Fetcher, opts Options) *Manager {
	return &Manager{
		uploader: up,
		service:  svc,
		fetcher:  f,
		names:    NewNameGenerator(),
		opts:     opts.withDefaults(),
		metrics:  metrics.DefaultMetrics,
	}
}

// Run uploads the asset, submits a job, waits for it and returns the raw
// transcript document. On any error before the service accepts the job the
// returned job is empty.
func (m *Manager) Run(ctx context.Context, asset types.AudioAsset) (types.TranscriptionJob, []byte, error) {
	name := m.names.Next()
	log := logger.New().WithField("component", "transcription").WithField("job", name)

	key := name + "/" + asset.Name
	var uri string
	err := m.retry(ctx, func() error {
		var err error
		uri, err = m.uploader.Upload(ctx, key, asset)
		return err
	})
	if err != nil {
		return types.TranscriptionJob{}, nil, fmt.Errorf("upload %s: %w", asset.Name, contextErr(ctx, err))
	}
	log.WithField("uri", uri).Info("audio uploaded")

	req := SubmitRequest{JobName: name, MediaURI: uri, Format: asset.Encoding, Language: m.opts.Language}
	submits := 0
	err = m.retry(ctx, func() error {
		submits++
		err := m.service.Submit(ctx, req)
		if errors.Is(err, types.ErrSubmissionConflict) {
			// A retry that conflicts may mean the earlier attempt was accepted
			// and only its reply was lost.
			if submits > 1 && m.exists(ctx, name) {
				log.Warn("earlier submit was accepted, reply was lost")
				return nil
			}
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		m.cleanup(ctx, uri)
		return types.TranscriptionJob{}, nil, fmt.Errorf("submit job %s: %w", name, contextErr(ctx, err))
	}
	m.metrics.JobsSubmitted.Inc()
	log.Info("transcription job submitted")

	job := types.TranscriptionJob{
		Name:        name,
		SourceURI:   uri,
		State:       types.JobSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
	if err := m.wait(ctx, &job); err != nil {
		m.metrics.RecordJobOutcome(outcomeLabel(err))
		log.WithError(err).Warn("transcription job did not complete")
		return job, nil, err
	}
	m.metrics.RecordJobOutcome("completed")

	log.WithField("result_uri", job.ResultURI).Info("download final transcript")
	doc, err := m.fetcher.Fetch(ctx, job.ResultURI)
	if err != nil {
		return job, nil, fmt.Errorf("fetch transcript for %s: %w", name, contextErr(ctx, err))
	}
	return job, doc, nil
}

// wait polls at a fixed interval until the job is terminal, MaxWait elapses
// or ctx is done. The first poll is immediate. MaxWait also bounds each Poll
// call.
func (m *Manager) wait(ctx context.Context, job *types.TranscriptionJob) error {
	wctx, cancel := context.WithTimeout(ctx, m.opts.MaxWait)
	defer cancel()

	expired := func() error {
		if ctx.Err() != nil {
			return contextErr(ctx, ctx.Err())
		}
		return fmt.Errorf("%w: job %s still %s after %s", types.ErrJobTimeout, job.Name, job.State, m.opts.MaxWait)
	}

	streak := 0
	for {
		m.metrics.JobPolls.Inc()
		st, err := m.service.Poll(wctx, job.Name)
		switch {
		case err != nil && wctx.Err() != nil:
			return expired()
		case err != nil:
			streak++
			if streak >= m.opts.MaxPollErrors {
				return fmt.Errorf("poll job %s: %d consecutive errors: %w", job.Name, streak, err)
			}
		default:
			streak = 0
			if err := job.Advance(st.State); err != nil {
				return err
			}
			switch job.State {
			case types.JobCompleted:
				if st.ResultURI == "" {
					return fmt.Errorf("%w: job %s completed without a transcript URI", types.ErrTranscriptionFailed, job.Name)
				}
				job.ResultURI = st.ResultURI
				return nil
			case types.JobFailed:
				job.FailureReason = st.FailureReason
				reason := st.FailureReason
				if reason == "" {
					reason = "no reason reported"
				}
				return fmt.Errorf("%w: job %s: %s", types.ErrTranscriptionFailed, job.Name, reason)
			}
		}

		next := time.NewTimer(m.opts.PollInterval)
		select {
		case <-wctx.Done():
			next.Stop()
			return expired()
		case <-next.C:
		}
	}
}

// exists reports whether the service knows the job.
func (m *Manager) exists(ctx context.Context, name string) bool {
	_, err := m.service.Poll(ctx, name)
	return err == nil
}

func (m *Manager) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.opts.SubmitRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			m.metrics.SubmitRetries.Inc()
		}
		return op()
	}, b)
}

// cleanup removes an upload whose job was never accepted.
func (m *Manager) cleanup(ctx context.Context, uri string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.uploader.Remove(cctx, uri); err != nil {
		logger.New().WithField("component", "transcription").WithField("uri", uri).
			WithError(err).Warn("could not remove orphaned upload")
	}
}

// contextErr maps context expiry onto the job error taxonomy.
func contextErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", types.ErrJobTimeout, ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, types.ErrTranscriptionFailed):
		return "failed"
	case errors.Is(err, types.ErrJobTimeout):
		return "timeout"
	case errors.Is(err, types.ErrCancelled):
		return "cancelled"
	}
	return "error"
}
