package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"call-audit-go/internal/types"
)

func v1Model() *Model {
	return &Model{
		SchemaVersion: "v1",
		Features:      FeatureSchemaV1.Features,
		Classes:       []int{0, 1},
		// louder, higher-pitched calls lean non-compliant
		Coef:        [][]float64{{-0.02, 0, 0, 0, 0, -4, 0, 0, 0}},
		Intercept:   []float64{5},
		ScalerMean:  []float64{0, 0, 0, 0, 0, 0, 0, 0, 0},
		ScalerScale: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1},
	}
}

type memSource struct {
	data  []byte
	name  string
	err   error
	reads atomic.Int32
	delay time.Duration
}

func (s *memSource) Name() string { return s.name }

func (s *memSource) Read(context.Context) ([]byte, error) {
	s.reads.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func jsonSource(t *testing.T, m *Model) *memSource {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return &memSource{data: b, name: "model.json"}
}

func calmCall() types.AudioFeatures {
	return types.AudioFeatures{Pitch: 180, Tempo: 100, RMSEnergy: 0.1, MFCC: make([]float64, 13), GFCC: make([]float64, 13), Chroma: make([]float64, 12)}
}

func TestPredictDeterministic(t *testing.T) {
	g := NewGateway(jsonSource(t, v1Model()))
	vec := BuildVector(calmCall())

	first, err := g.Predict(context.Background(), vec)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := g.Predict(context.Background(), BuildVector(calmCall()))
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("prediction changed: %+v vs %+v", again, first)
		}
	}

	// z = -0.02*180 - 4*0.1 + 5 = 1.0
	want := 1 / (1 + math.Exp(-1.0))
	if first.Label != 1 || first.Status != types.StatusCompliant {
		t.Errorf("unexpected result %+v", first)
	}
	if math.Abs(first.Confidence-want) > 1e-12 {
		t.Errorf("confidence = %f, want %f", first.Confidence, want)
	}
}

func TestPredictNonCompliant(t *testing.T) {
	g := NewGateway(jsonSource(t, v1Model()))
	f := calmCall()
	f.Pitch = 320
	res, err := g.Predict(context.Background(), BuildVector(f))
	if err != nil {
		t.Fatal(err)
	}
	if res.Label != 0 || res.Status != types.StatusNonCompliant || res.Confidence < 0.5 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestPredictInvalidVector(t *testing.T) {
	g := NewGateway(jsonSource(t, v1Model()))
	good := BuildVector(calmCall())

	short := good
	short.Values = good.Values[:5]
	short.Names = nil

	reordered := good
	reordered.Names = append([]string{good.Names[1], good.Names[0]}, good.Names[2:]...)

	nan := good
	nan.Values = append([]float64{math.NaN()}, good.Values[1:]...)

	tests := []struct {
		name string
		vec  Vector
	}{
		{"wrong arity", short},
		{"other schema", FeatureSchemaV2.Build(Inputs{Features: calmCall()})},
		{"reordered", reordered},
		{"non-finite", nan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Predict(context.Background(), tt.vec)
			if !errors.Is(err, types.ErrInvalidFeatureVector) {
				t.Fatalf("expected ErrInvalidFeatureVector, got %v", err)
			}
		})
	}
}

func TestModelLoadedOnce(t *testing.T) {
	src := jsonSource(t, v1Model())
	src.delay = 20 * time.Millisecond
	g := NewGateway(src)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Predict(context.Background(), BuildVector(calmCall())); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Predict: %v", err)
	}
	if n := src.reads.Load(); n != 1 {
		t.Errorf("model read %d times, want 1", n)
	}
}

func TestModelLoadFailureIsRetryable(t *testing.T) {
	src := jsonSource(t, v1Model())
	src.err = errors.New("disk on fire")
	g := NewGateway(src)

	_, err := g.Predict(context.Background(), BuildVector(calmCall()))
	if !errors.Is(err, types.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	src.err = nil
	if _, err := g.Predict(context.Background(), BuildVector(calmCall())); err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if n := src.reads.Load(); n != 2 {
		t.Errorf("reads = %d, want 2", n)
	}
}

func TestClassifyUsesModelSchema(t *testing.T) {
	m := &Model{
		SchemaVersion: "v2",
		Features:      FeatureSchemaV2.Features,
		Classes:       []int{0, 1},
		Coef:          [][]float64{{0, 0, 0, 0, 0, -2, 1, -1, 0}},
		Intercept:     []float64{0.5},
	}
	g := NewGateway(jsonSource(t, m))

	clean, err := g.Classify(context.Background(), Inputs{
		Features: calmCall(),
		Tone:     types.ToneScores{types.TonePositive: 1, types.ToneNegative: 0, types.ToneNeutral: 0.5},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if clean.Status != types.StatusCompliant {
		t.Errorf("clean call = %+v", clean)
	}

	dirty, err := g.Classify(context.Background(), Inputs{
		Features:       calmCall(),
		ViolationCount: 3,
		Tone:           types.ToneScores{types.TonePositive: 0, types.ToneNegative: 1, types.ToneNeutral: 0.5},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dirty.Status != types.StatusNonCompliant {
		t.Errorf("dirty call = %+v", dirty)
	}
}

func TestSoftmaxModel(t *testing.T) {
	m := &Model{
		SchemaVersion: "v1",
		Features:      FeatureSchemaV1.Features,
		Classes:       []int{0, 1, 2},
		Coef: [][]float64{
			{0, 0, 0, 0, 0, 0, 0, 0, 0},
			{0, 0, 0, 0, 0, 10, 0, 0, 0},
			{0, 0, 0, 0, 0, -10, 0, 0, 0},
		},
		Intercept: []float64{0, 0, 0},
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	label, probs, err := m.Predict(BuildVector(calmCall()))
	if err != nil {
		t.Fatal(err)
	}
	if label != 1 {
		t.Errorf("label = %d, probs %v", label, probs)
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %f", sum)
	}
}

func TestDecodeModelMsgpack(t *testing.T) {
	b, err := v1Model().EncodeMsgpack()
	if err != nil {
		t.Fatal(err)
	}
	m, err := DecodeModel(b, "models/call_classifier.msgpack")
	if err != nil {
		t.Fatalf("DecodeModel: %v", err)
	}
	if m.SchemaVersion != "v1" || len(m.Coef[0]) != 9 || m.Intercept[0] != 5 {
		t.Errorf("unexpected model %+v", m)
	}
}

func TestModelValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
	}{
		{"unknown schema", func(m *Model) { m.SchemaVersion = "v0" }},
		{"feature mismatch", func(m *Model) { m.Features = FeatureSchemaV2.Features }},
		{"one class", func(m *Model) { m.Classes = []int{1} }},
		{"short coef row", func(m *Model) { m.Coef = [][]float64{{1, 2}} }},
		{"missing intercept", func(m *Model) { m.Intercept = nil }},
		{"zero scale", func(m *Model) { m.ScalerScale[3] = 0 }},
		{"rows vs classes", func(m *Model) { m.Classes = []int{0, 1, 2} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := v1Model()
			tt.mutate(m)
			if err := m.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

type fakeGetter struct {
	body []byte
	key  string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestNewSource(t *testing.T) {
	b, _ := json.Marshal(v1Model())
	getter := &fakeGetter{body: b}

	src, err := NewSource("s3://models/prod/classifier.json", getter)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	g := NewGateway(src)
	if _, err := g.Model(context.Background()); err != nil {
		t.Fatalf("Model: %v", err)
	}
	if getter.key != "prod/classifier.json" {
		t.Errorf("key = %q", getter.key)
	}

	path := filepath.Join(t.TempDir(), "classifier.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	local, err := NewSource(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewGateway(local).Model(context.Background()); err != nil {
		t.Fatalf("local Model: %v", err)
	}

	if _, err := NewSource("s3://models", getter); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := NewSource("s3://models/k.json", nil); err == nil {
		t.Error("expected error without a client")
	}
}
