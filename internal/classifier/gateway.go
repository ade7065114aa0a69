package classifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gonum.org/v1/gonum/floats"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/metrics"
	"call-audit-go/internal/types"
)

// Source reads the raw model artifact.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	// Name identifies the artifact; its extension selects the format.
	Name() string
}

type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Read(context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

// S3GetAPI is the part of the S3 client needed to fetch a model.
type S3GetAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Source struct {
	client S3GetAPI
	bucket string
	key    string
}

func (s *S3Source) Name() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Source) Read(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Name(), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// NewSource picks a FileSource or, for s3://bucket/key, an S3Source. client
// may be nil when the location is local.
func NewSource(location string, client S3GetAPI) (Source, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return FileSource{Path: location}, nil
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("model location %q needs a bucket and a key", location)
	}
	if client == nil {
		return nil, fmt.Errorf("model location %s needs an S3 client", location)
	}
	return &S3Source{client: client, bucket: bucket, key: key}, nil
}

// Gateway loads the model on first use and shares it, read-only, across runs.
// A failed load is not cached so a later run can retry it.
type Gateway struct {
	source  Source
	metrics *metrics.Metrics

	mu    sync.Mutex
	model atomic.Pointer[Model]
}

func NewGateway(src Source) *Gateway {
	return &Gateway{source: src, metrics: metrics.DefaultMetrics}
}

// Model returns the loaded model, loading it if needed. Concurrent callers
// wait for a single load.
func (g *Gateway) Model(ctx context.Context) (*Model, error) {
	if m := g.model.Load(); m != nil {
		return m, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if m := g.model.Load(); m != nil {
		return m, nil
	}

	log := logger.New().WithField("component", "classifier").WithField("model", g.source.Name())
	m, err := g.load(ctx)
	g.metrics.RecordModelLoad(err)
	if err != nil {
		log.WithError(err).Error("model load failed")
		return nil, fmt.Errorf("%w: %w", types.ErrModelUnavailable, err)
	}
	g.model.Store(m)
	log.WithField("schema", m.SchemaVersion).WithField("classes", m.Classes).Info("model loaded")
	return m, nil
}

func (g *Gateway) load(ctx context.Context) (*Model, error) {
	data, err := g.source.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return DecodeModel(data, g.source.Name())
}

// Predict scores a prepared vector. Label 1 is Compliant.
func (g *Gateway) Predict(ctx context.Context, vec Vector) (types.ClassificationResult, error) {
	m, err := g.Model(ctx)
	if err != nil {
		return types.ClassificationResult{}, err
	}
	label, probs, err := m.Predict(vec)
	if err != nil {
		return types.ClassificationResult{}, err
	}
	res := types.ClassificationResult{
		Status:     types.StatusNonCompliant,
		Label:      label,
		Confidence: floats.Max(probs),
	}
	if label == 1 {
		res.Status = types.StatusCompliant
	}
	g.metrics.Classifications.WithLabelValues(res.Status).Inc()
	return res, nil
}

// Classify builds the vector the loaded model expects and scores it.
func (g *Gateway) Classify(ctx context.Context, in Inputs) (types.ClassificationResult, error) {
	m, err := g.Model(ctx)
	if err != nil {
		return types.ClassificationResult{}, err
	}
	schema, ok := SchemaFor(m.SchemaVersion)
	if !ok {
		return types.ClassificationResult{}, fmt.Errorf("%w: no schema %q", types.ErrInvalidFeatureVector, m.SchemaVersion)
	}
	return g.Predict(ctx, schema.Build(in))
}
