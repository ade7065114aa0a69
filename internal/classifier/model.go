package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"

	"call-audit-go/internal/types"
)

// Model is a linear classifier artifact exported from the training job.
// A single coef row means binary logistic regression over Classes[0..1];
// otherwise there is one row per class and scores go through softmax.
type Model struct {
	SchemaVersion string      `json:"schema_version"`
	Features      []string    `json:"features"`
	Classes       []int       `json:"classes"`
	Coef          [][]float64 `json:"coef"`
	Intercept     []float64   `json:"intercept"`
	ScalerMean    []float64   `json:"scaler_mean,omitempty"`
	ScalerScale   []float64   `json:"scaler_scale,omitempty"`
}

// DecodeModel parses an artifact. name selects the format: .msgpack and .mpk
// are MessagePack, anything else is JSON.
func DecodeModel(data []byte, name string) (*Model, error) {
	var m Model
	switch strings.ToLower(path.Ext(name)) {
	case ".msgpack", ".mpk":
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode msgpack model: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode json model: %w", err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeMsgpack serialises the model with the same field names as JSON.
func (m *Model) EncodeMsgpack() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Model) Validate() error {
	var errs []error
	schema, ok := SchemaFor(m.SchemaVersion)
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("unknown schema_version %q", m.SchemaVersion))
	case !slices.Equal(schema.Features, m.Features):
		errs = append(errs, fmt.Errorf("features %v do not match schema %s %v", m.Features, m.SchemaVersion, schema.Features))
	}
	n := len(m.Features)
	if len(m.Classes) < 2 {
		errs = append(errs, fmt.Errorf("need at least 2 classes, got %d", len(m.Classes)))
	}
	rows := len(m.Coef)
	switch {
	case rows == 1 && len(m.Classes) != 2:
		errs = append(errs, fmt.Errorf("a single coef row needs exactly 2 classes, got %d", len(m.Classes)))
	case rows != 1 && rows != len(m.Classes):
		errs = append(errs, fmt.Errorf("coef has %d rows for %d classes", rows, len(m.Classes)))
	}
	if len(m.Intercept) != rows {
		errs = append(errs, fmt.Errorf("intercept has %d values for %d coef rows", len(m.Intercept), rows))
	}
	for i, row := range m.Coef {
		if len(row) != n {
			errs = append(errs, fmt.Errorf("coef row %d has %d weights for %d features", i, len(row), n))
		}
		if !allFinite(row) {
			errs = append(errs, fmt.Errorf("coef row %d is not finite", i))
		}
	}
	if !allFinite(m.Intercept) {
		errs = append(errs, errors.New("intercept is not finite"))
	}
	if len(m.ScalerMean) != 0 && len(m.ScalerMean) != n {
		errs = append(errs, fmt.Errorf("scaler_mean has %d values for %d features", len(m.ScalerMean), n))
	}
	if len(m.ScalerScale) != 0 && len(m.ScalerScale) != n {
		errs = append(errs, fmt.Errorf("scaler_scale has %d values for %d features", len(m.ScalerScale), n))
	}
	for i, s := range m.ScalerScale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			errs = append(errs, fmt.Errorf("scaler_scale[%d] = %v", i, s))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid model: %w", errors.Join(errs...))
	}
	return nil
}

// Predict returns the winning class and the class probabilities in Classes order.
func (m *Model) Predict(vec Vector) (int, []float64, error) {
	if vec.SchemaVersion != m.SchemaVersion {
		return 0, nil, fmt.Errorf("%w: vector schema %q, model schema %q",
			types.ErrInvalidFeatureVector, vec.SchemaVersion, m.SchemaVersion)
	}
	if len(vec.Values) != len(m.Features) {
		return 0, nil, fmt.Errorf("%w: got %d values, model expects %d",
			types.ErrInvalidFeatureVector, len(vec.Values), len(m.Features))
	}
	if vec.Names != nil && !slices.Equal(vec.Names, m.Features) {
		return 0, nil, fmt.Errorf("%w: feature order %v does not match model %v",
			types.ErrInvalidFeatureVector, vec.Names, m.Features)
	}
	if !allFinite(vec.Values) {
		return 0, nil, fmt.Errorf("%w: non-finite value in %v", types.ErrInvalidFeatureVector, vec.Values)
	}

	x := slices.Clone(vec.Values)
	if len(m.ScalerMean) > 0 {
		floats.Sub(x, m.ScalerMean)
	}
	if len(m.ScalerScale) > 0 {
		floats.Div(x, m.ScalerScale)
	}

	var probs []float64
	if len(m.Coef) == 1 {
		p := sigmoid(floats.Dot(m.Coef[0], x) + m.Intercept[0])
		probs = []float64{1 - p, p}
	} else {
		probs = make([]float64, len(m.Coef))
		for i, row := range m.Coef {
			probs[i] = floats.Dot(row, x) + m.Intercept[i]
		}
		softmax(probs)
	}
	return m.Classes[floats.MaxIdx(probs)], probs, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softmax(z []float64) {
	top := floats.Max(z)
	for i := range z {
		z[i] = math.Exp(z[i] - top)
	}
	floats.Scale(1/floats.Sum(z), z)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
