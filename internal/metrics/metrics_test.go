package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	m := DefaultMetrics

	before := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok"))
	m.RecordRun("ok", 1.5)
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("runs_total{ok} = %v, want %v", got, before+1)
	}

	beforeErr := testutil.ToFloat64(m.StageErrors.WithLabelValues("features"))
	m.RecordStage("features", 0.2, errors.New("boom"))
	m.RecordStage("features", 0.1, nil)
	if got := testutil.ToFloat64(m.StageErrors.WithLabelValues("features")); got != beforeErr+1 {
		t.Errorf("stage_errors_total{features} = %v, want %v", got, beforeErr+1)
	}

	beforeLoad := testutil.ToFloat64(m.ModelLoads.WithLabelValues("error"))
	m.RecordModelLoad(errors.New("missing"))
	if got := testutil.ToFloat64(m.ModelLoads.WithLabelValues("error")); got != beforeLoad+1 {
		t.Errorf("model_loads_total{error} = %v", got)
	}
}
