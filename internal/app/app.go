// Package app wires configuration into ready-to-run pipeline components.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"

	"call-audit-go/internal/classifier"
	"call-audit-go/internal/config"
	"call-audit-go/internal/events"
	"call-audit-go/internal/extractor"
	"call-audit-go/internal/features"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/pipeline"
	"call-audit-go/internal/rules"
	"call-audit-go/internal/store"
	"call-audit-go/internal/tone"
	"call-audit-go/internal/transcript"
	"call-audit-go/internal/transcription"
)

type App struct {
	Config    *config.Config
	Store     store.Store
	Publisher *events.Publisher

	manager *transcription.Manager
	base    pipeline.Deps
}

// New builds every long-lived component. The AWS clients are created lazily
// by the SDK, so nothing here talks to AWS.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New().WithField("component", "app")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	uploader := transcription.NewS3Uploader(s3Client, transcription.S3UploaderConfig{
		Bucket:       cfg.AWS.Bucket,
		Prefix:       cfg.AWS.KeyPrefix,
		Region:       cfg.AWS.Region,
		CreateBucket: cfg.AWS.CreateBucket,
	})
	manager := transcription.NewManager(
		uploader,
		transcription.NewAWSService(transcribe.NewFromConfig(awsCfg)),
		transcription.NewHTTPFetcher(nil),
		transcription.Options{
			Language:      cfg.Transcription.Language,
			PollInterval:  cfg.Transcription.PollInterval,
			MaxWait:       cfg.Transcription.MaxWait,
			SubmitRetries: cfg.Transcription.SubmitRetries,
			MaxPollErrors: cfg.Transcription.MaxPollErrors,
		},
	)

	checker, err := newChecker(cfg)
	if err != nil {
		return nil, err
	}

	modelSrc, err := classifier.NewSource(cfg.Classifier.ModelPath, s3Client)
	if err != nil {
		return nil, err
	}

	policy, err := pipeline.ParsePolicy(cfg.Persistence.Policy)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pub := events.New(cfg.Kafka)

	var saver pipeline.ReportSaver
	if _, nop := st.(store.Nop); !nop {
		saver = st
	}

	log.WithField("store", cfg.Store.Driver).
		WithField("policy", policy).
		WithField("model", modelSrc.Name()).
		WithField("llm", cfg.LLM.Enabled).
		Info("components ready")

	return &App{
		Config:    cfg,
		Store:     st,
		Publisher: pub,
		manager:   manager,
		base: pipeline.Deps{
			Features:   features.NewDSPExtractor(cfg.Features.FFmpegPath),
			Checker:    checker,
			Tone:       tone.NewDefaultAnalyzer(),
			Classifier: classifier.NewGateway(modelSrc),
			Store:      saver,
			Publisher:  pub,
			Policy:     policy,
		},
	}, nil
}

func newChecker(cfg *config.Config) (pipeline.ViolationChecker, error) {
	if cfg.LLM.Enabled {
		return extractor.NewLLMChecker(cfg.LLM), nil
	}
	if cfg.Rules.Path == "" {
		return rules.NewDefaultEngine()
	}
	rs, err := rules.LoadFile(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	return rules.NewEngine(rs)
}

// LiveRunner transcribes each call with a remote job.
func (a *App) LiveRunner() *pipeline.Runner {
	d := a.base
	d.Source = transcription.NewLiveJobSource(a.manager, a.Config.Transcription.DefaultSpeaker)
	return pipeline.New(d)
}

// ReplayRunner reads the transcript from a saved JSON file instead.
func (a *App) ReplayRunner(transcriptPath string) *pipeline.Runner {
	d := a.base
	d.Source = transcript.NewStoredSource(transcriptPath, a.Config.Transcription.DefaultSpeaker)
	return pipeline.New(d)
}

func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Publisher.Close(), a.Store.Close(ctx))
}
