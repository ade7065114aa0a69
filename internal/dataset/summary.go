package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/store"
)

const (
	reportsSheet = "Reports"
	summarySheet = "Summary"
)

var reportHeader = []any{
	"Date", "File", "Status", "Confidence", "Reason", "Tone",
	"Violations", "Rules", "Pitch (Hz)", "Tempo (BPM)", "Run ID", "Saved At",
}

// WriteReports exports an agent's reports to a workbook with one row per
// report and a summary sheet.
func WriteReports(path, agent string, recs []store.Record) error {
	log := logger.New().WithField("component", "dataset.export").WithField("path", path)

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(reportsSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	if err := f.SetSheetRow(reportsSheet, "A1", &reportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range recs {
		rep := r.Report
		ids := make([]string, 0, rep.RuleViolations.Count())
		for _, v := range rep.RuleViolations.Violations {
			ids = append(ids, v.RuleID)
		}
		row := []any{
			r.Date,
			r.FileName,
			rep.Classification.Status,
			rep.Classification.Confidence,
			rep.Classification.Reason,
			rep.AgentTone,
			rep.RuleViolations.Count(),
			strings.Join(ids, ", "),
			rep.AudioFeatures.Pitch,
			rep.AudioFeatures.Tempo,
			rep.Provenance.RunID,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(reportsSheet, "A", "L", 16); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	s := aggregator.Aggregate(agent, recs)
	summary := [][]any{
		{"Agent", s.Agent},
		{"Total calls", s.TotalCalls},
		{"Compliant", s.Compliant},
		{"Non-compliant", s.NonCompliant},
		{"Compliance rate", s.ComplianceRate},
		{"Average confidence", s.AvgConfidence},
		{"Average pitch (Hz)", s.AvgPitch},
		{"High pitch calls", s.HighPitchCalls},
		{"First date", s.FirstDate},
		{"Last date", s.LastDate},
	}
	for _, v := range s.TopViolations {
		summary = append(summary, []any{"Violations: " + v.RuleID, v.Count})
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	log.WithField("agent", agent).WithField("rows", len(recs)).Info("reports exported")
	return nil
}
