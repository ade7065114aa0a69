// Package classifier builds versioned feature vectors and scores them with a
// pretrained linear model.
package classifier

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"call-audit-go/internal/types"
)

// Schema is the ordered list of named features a model was trained on.
// The order is part of the contract with the model artifact.
type Schema struct {
	Version  string
	Features []string
}

// FeatureSchemaV1 covers the acoustic features only; vector features are
// reduced to their mean.
var FeatureSchemaV1 = Schema{
	Version: "v1",
	Features: []string{
		"pitch",
		"pitch_range",
		"tempo",
		"jitter",
		"zero_crossing_rate",
		"rms_energy",
		"mfcc_mean",
		"gfcc_mean",
		"chroma_mean",
	},
}

// FeatureSchemaV2 mixes acoustic and transcript-derived features in the
// layout of the first production classifier.
var FeatureSchemaV2 = Schema{
	Version: "v2",
	Features: []string{
		"mfcc_0",
		"mfcc_1",
		"pitch",
		"tempo",
		"rms_energy",
		"violation_count",
		"tone_positive",
		"tone_negative",
		"tone_neutral",
	},
}

var schemas = map[string]Schema{
	FeatureSchemaV1.Version: FeatureSchemaV1,
	FeatureSchemaV2.Version: FeatureSchemaV2,
}

func SchemaFor(version string) (Schema, bool) {
	s, ok := schemas[version]
	return s, ok
}

// Inputs are the stage outputs a schema may draw from.
type Inputs struct {
	Features       types.AudioFeatures
	ViolationCount int
	Tone           types.ToneScores
}

// Vector is a feature vector tagged with the schema that produced it.
type Vector struct {
	SchemaVersion string
	Names         []string
	Values        []float64
}

// Build lays out the inputs in schema order. Unknown feature names and
// missing vector elements read as 0.
func (s Schema) Build(in Inputs) Vector {
	f := in.Features
	values := make([]float64, len(s.Features))
	for i, name := range s.Features {
		switch name {
		case "pitch":
			values[i] = f.Pitch
		case "pitch_range":
			values[i] = f.PitchRange
		case "tempo":
			values[i] = f.Tempo
		case "jitter":
			values[i] = f.Jitter
		case "zero_crossing_rate":
			values[i] = f.ZeroCrossingRate
		case "rms_energy":
			values[i] = f.RMSEnergy
		case "mfcc_mean":
			values[i] = mean(f.MFCC)
		case "gfcc_mean":
			values[i] = mean(f.GFCC)
		case "chroma_mean":
			values[i] = mean(f.Chroma)
		case "mfcc_0":
			values[i] = at(f.MFCC, 0)
		case "mfcc_1":
			values[i] = at(f.MFCC, 1)
		case "violation_count":
			values[i] = float64(in.ViolationCount)
		case "tone_positive":
			values[i] = in.Tone[types.TonePositive]
		case "tone_negative":
			values[i] = in.Tone[types.ToneNegative]
		case "tone_neutral":
			values[i] = in.Tone[types.ToneNeutral]
		}
	}
	return Vector{SchemaVersion: s.Version, Names: slices.Clone(s.Features), Values: values}
}

// BuildVector builds a FeatureSchemaV1 vector.
func BuildVector(f types.AudioFeatures) Vector {
	return FeatureSchemaV1.Build(Inputs{Features: f})
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
