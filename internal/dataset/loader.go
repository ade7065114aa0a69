package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-audit-go/internal/logger"
)

// ManifestEntry is one call of a batch manifest.
type ManifestEntry struct {
	Row       int    `json:"row"`
	AudioPath string `json:"audio_path"`
	Agent     string `json:"agent,omitempty"`
	Date      string `json:"date,omitempty"`
}

// LoadManifest reads the first sheet of a workbook and detects the audio,
// agent and date columns by header name. Rows without an audio path are
// skipped; format checks are left to the pipeline so they are reported per call.
func LoadManifest(path string) ([]ManifestEntry, error) {
	log := logger.New().WithField("component", "dataset.manifest").WithField("path", path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	audioIdx, agentIdx, dateIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case audioIdx == -1 && (strings.Contains(l, "audio") || strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "recording")):
			audioIdx = i
		case agentIdx == -1 && strings.Contains(l, "agent"):
			agentIdx = i
		case dateIdx == -1 && strings.Contains(l, "date"):
			dateIdx = i
		}
	}
	if audioIdx == -1 {
		audioIdx = 0
	}
	log.WithField("audioIdx", audioIdx).WithField("agentIdx", agentIdx).WithField("dateIdx", dateIdx).
		Debug("detected manifest columns")

	cell := func(r []string, i int) string {
		if i >= 0 && i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}

	var out []ManifestEntry
	for i, r := range rows[1:] {
		e := ManifestEntry{
			Row:       i + 2,
			AudioPath: cell(r, audioIdx),
			Agent:     cell(r, agentIdx),
			Date:      normalizeDate(cell(r, dateIdx)),
		}
		if e.AudioPath == "" {
			continue
		}
		out = append(out, e)
	}
	log.WithField("entries", len(out)).Info("manifest loaded")
	return out, nil
}

// Layouts seen in hand-kept manifests; mm-dd-yy is how excelize renders a
// date cell with the default number format.
var manifestDateLayouts = []string{time.DateOnly, "1/2/2006", "01-02-06", "2006/01/02", "1/2/06"}

// normalizeDate rewrites recognized dates as YYYY-MM-DD. Anything else is
// passed through so the batch reports it against its row.
func normalizeDate(s string) string {
	for _, layout := range manifestDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return s
}
