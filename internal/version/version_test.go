package version

import "testing"

func TestString(t *testing.T) {
	Version, Commit, Date = "1.2.0", "abc123", "2026-10-01"
	t.Cleanup(func() { Version, Commit, Date = "dev", "unknown", "unknown" })

	if got := String(); got != "1.2.0 (commit abc123, built 2026-10-01)" {
		t.Errorf("String() = %q", got)
	}
}
