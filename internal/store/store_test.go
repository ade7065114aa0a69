package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"call-audit-go/internal/config"
	"call-audit-go/internal/types"
)

func sampleReport(status string, violations int) types.AuditReport {
	rep := types.AuditReport{
		AudioFeatures:  types.AudioFeatures{Pitch: 210.5, MFCC: []float64{1, 2, 3}},
		RuleViolations: types.ViolationReport{Checker: "rules", Violations: []types.Violation{}},
		AgentTone:      types.TonePositive,
		ToneScores:     types.ToneScores{types.TonePositive: 0.7, types.ToneNegative: 0.3, types.ToneNeutral: 0.6},
		Classification: types.ClassificationResult{Status: status, Label: 1, Confidence: 0.91, Reason: "Call is normal and compliant"},
	}
	for i := 0; i < violations; i++ {
		st := float64(i)
		rep.RuleViolations.Violations = append(rep.RuleViolations.Violations,
			types.Violation{RuleID: "pressure-tactics", Matched: "act now", StartTime: &st})
	}
	return rep
}

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestBadgerSaveAndListOrder(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()

	base := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	saves := []struct{ date, file string }{
		{"2025-11-30", "a.wav"},
		{"2025-12-01", "b.wav"},
		{"2025-11-30", "c.wav"},
		{"2025-12-01", "b.wav"}, // same file and date again: still a new record
	}
	for _, sv := range saves {
		if err := s.Save(ctx, "alice", sv.date, sv.file, sampleReport(types.StatusCompliant, 1)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.Save(ctx, "bob", "2025-12-02", "z.wav", sampleReport(types.StatusNonCompliant, 0)); err != nil {
		t.Fatal(err)
	}

	recs, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []struct{ date, file string }{
		{"2025-12-01", "b.wav"},
		{"2025-12-01", "b.wav"},
		{"2025-11-30", "c.wav"},
		{"2025-11-30", "a.wav"},
	}
	if len(recs) != len(want) {
		t.Fatalf("got %d records, want %d", len(recs), len(want))
	}
	for i, w := range want {
		if recs[i].Date != w.date || recs[i].FileName != w.file {
			t.Errorf("record %d = %s/%s, want %s/%s", i, recs[i].Date, recs[i].FileName, w.date, w.file)
		}
	}
	if !recs[0].CreatedAt.After(recs[1].CreatedAt) {
		t.Errorf("equal dates must list newest insert first: %v, %v", recs[0].CreatedAt, recs[1].CreatedAt)
	}

	got := recs[0].Report
	if got.Classification.Confidence != 0.91 || got.ToneScores[types.TonePositive] != 0.7 || len(got.AudioFeatures.MFCC) != 3 {
		t.Errorf("report did not round trip: %+v", got)
	}
	if got.RuleViolations.Count() != 1 || *got.RuleViolations.Violations[0].StartTime != 0 {
		t.Errorf("violations did not round trip: %+v", got.RuleViolations)
	}
}

func TestBadgerAgentIsolation(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()

	for _, agent := range []string{"bob", "bob/x", "bobby"} {
		if err := s.Save(ctx, agent, "2025-12-01", "f.wav", sampleReport(types.StatusCompliant, 0)); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.List(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].AgentName != "bob" {
		t.Errorf("prefix leaked across agents: %+v", recs)
	}

	n, err := s.DeleteAgent(ctx, "bob")
	if err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if recs, _ := s.List(ctx, "bobby"); len(recs) != 1 {
		t.Errorf("delete removed another agent's records")
	}
	if recs, _ := s.List(ctx, "bob"); len(recs) != 0 {
		t.Errorf("records remain after delete: %+v", recs)
	}
}

func TestBadgerListUnknownAgent(t *testing.T) {
	s := newTestBadger(t)
	recs, err := s.List(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", recs)
	}
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("save inserts a new document", func(mt *mtest.T) {
		s := NewMongoFromCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		if err := s.Save(context.Background(), "alice", "2025-12-01", "call.wav", sampleReport(types.StatusCompliant, 2)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ev := mt.GetStartedEvent()
		if ev.CommandName != "insert" {
			t.Fatalf("command = %s, want insert", ev.CommandName)
		}
		doc := ev.Command.Lookup("documents").Array().Index(0).Value().Document()
		if doc.Lookup("agent_name").StringValue() != "alice" || doc.Lookup("file_name").StringValue() != "call.wav" {
			t.Errorf("unexpected document %s", doc)
		}
		if doc.Lookup("report", "classification", "status").StringValue() != types.StatusCompliant {
			t.Errorf("report not embedded: %s", doc)
		}
	})

	mt.Run("list sorts by date then insert time", func(mt *mtest.T) {
		s := NewMongoFromCollection(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "agent_name", Value: "alice"},
				{Key: "date", Value: "2025-12-01"},
				{Key: "file_name", Value: "b.wav"},
				{Key: "report", Value: bson.D{
					{Key: "agent_tone", Value: "negative"},
					{Key: "classification", Value: bson.D{{Key: "status", Value: "Non-Compliant"}, {Key: "confidence", Value: 0.75}}},
				}},
			},
			bson.D{
				{Key: "agent_name", Value: "alice"},
				{Key: "date", Value: "2025-11-30"},
				{Key: "file_name", Value: "a.wav"},
			},
		))

		recs, err := s.List(context.Background(), "alice")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) != 2 || recs[0].FileName != "b.wav" || recs[0].Report.Classification.Confidence != 0.75 {
			t.Fatalf("unexpected records %+v", recs)
		}

		cmd := mt.GetStartedEvent().Command
		sort := cmd.Lookup("sort").Document()
		elems, _ := sort.Elements()
		if len(elems) != 2 || elems[0].Key() != "date" || elems[1].Key() != "created_at" {
			t.Errorf("sort = %s", sort)
		}
		if cmd.Lookup("filter", "agent_name").StringValue() != "alice" {
			t.Errorf("filter = %s", cmd.Lookup("filter"))
		}
	})

	mt.Run("delete agent", func(mt *mtest.T) {
		s := NewMongoFromCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(3)}))

		n, err := s.DeleteAgent(context.Background(), "alice")
		if err != nil {
			t.Fatalf("DeleteAgent: %v", err)
		}
		if n != 3 {
			t.Errorf("deleted %d, want 3", n)
		}
	})

	mt.Run("insert error surfaces", func(mt *mtest.T) {
		s := NewMongoFromCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))
		if err := s.Save(context.Background(), "alice", "2025-12-01", "f", sampleReport(types.StatusCompliant, 0)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSaveRejectsNonISODate(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()
	if err := s.Save(ctx, "alice", "2026-10-01", "a.wav", sampleReport(types.StatusCompliant, 0)); err != nil {
		t.Fatal(err)
	}
	for _, date := range []string{"9/30/2026", "2026-9-30", ""} {
		if err := s.Save(ctx, "alice", date, "b.wav", sampleReport(types.StatusCompliant, 0)); !errors.Is(err, types.ErrInvalidDate) {
			t.Errorf("Save(%q) = %v, want ErrInvalidDate", date, err)
		}
	}
	recs, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Date != "2026-10-01" {
		t.Errorf("records = %+v", recs)
	}

	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	mt.Run("mongo", func(mt *mtest.T) {
		ms := NewMongoFromCollection(mt.Coll)
		if err := ms.Save(ctx, "alice", "9/30/2026", "b.wav", sampleReport(types.StatusCompliant, 0)); !errors.Is(err, types.ErrInvalidDate) {
			t.Errorf("mongo Save = %v, want ErrInvalidDate", err)
		}
	})
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: "none"})
	if err != nil {
		t.Fatalf("Open none: %v", err)
	}
	if err := s.Save(context.Background(), "a", "d", "f", types.AuditReport{}); err != nil {
		t.Errorf("Nop.Save: %v", err)
	}

	b, err := Open(context.Background(), config.StoreConfig{Driver: "badger", BadgerDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open badger: %v", err)
	}
	b.Close(context.Background())

	if _, err := Open(context.Background(), config.StoreConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
