package transcription

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const jobPrefix = "CallAuditJob"

var jobNameRe = regexp.MustCompile(`^CallAuditJob-([0-9a-f]{8})-([0-9]+)$`)

// NameGenerator issues job names of the form CallAuditJob-<8 hex>-<unix secs>.
// It remembers the names it handed out during the current second and redraws
// on a local repeat; collisions with other processes surface as
// ErrSubmissionConflict at submit time.
type NameGenerator struct {
	now func() time.Time

	mu     sync.Mutex
	sec    int64
	issued map[string]struct{}
}

func NewNameGenerator() *NameGenerator {
	return &NameGenerator{now: time.Now}
}

func (g *NameGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	sec := g.now().Unix()
	if sec != g.sec || g.issued == nil {
		g.sec = sec
		g.issued = make(map[string]struct{})
	}
	for {
		hex := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		if _, dup := g.issued[hex]; dup {
			continue
		}
		g.issued[hex] = struct{}{}
		return fmt.Sprintf("%s-%s-%d", jobPrefix, hex, sec)
	}
}

// ParseJobName returns the random suffix and submission time encoded in name.
func ParseJobName(name string) (suffix string, submitted time.Time, err error) {
	m := jobNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("not a call audit job name: %q", name)
	}
	secs, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("job name %q: %w", name, err)
	}
	return m[1], time.Unix(secs, 0).UTC(), nil
}
