package transcription

import (
	"regexp"
	"testing"
	"time"
)

func TestNameGeneratorUnique(t *testing.T) {
	g := NewNameGenerator()
	fixed := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return fixed }

	pattern := regexp.MustCompile(`^CallAuditJob-[0-9a-f]{8}-1700000000$`)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		name := g.Next()
		if !pattern.MatchString(name) {
			t.Fatalf("name %q does not match pattern", name)
		}
		if _, dup := seen[name]; dup {
			t.Fatalf("duplicate name %q after %d draws", name, i)
		}
		seen[name] = struct{}{}
	}
}

func TestParseJobName(t *testing.T) {
	suffix, at, err := ParseJobName("CallAuditJob-0a1b2c3d-1700000000")
	if err != nil {
		t.Fatalf("ParseJobName: %v", err)
	}
	if suffix != "0a1b2c3d" {
		t.Errorf("suffix = %q", suffix)
	}
	if !at.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("time = %v", at)
	}

	for _, bad := range []string{"", "CallAuditJob-XYZ-1", "CallAuditJob-0a1b2c3d", "OtherJob-0a1b2c3d-1"} {
		if _, _, err := ParseJobName(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
