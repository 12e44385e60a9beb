package version

import "testing"

func TestCurrentFillsDefaults(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version, Commit = "  ", ""
	got := Current()
	if got.Version != "dev" || got.Commit != "unknown" {
		t.Fatalf("unexpected defaults %+v", got)
	}

	Version, Commit = " v1.2.0 ", "abc123"
	got = Current()
	if got.Version != "v1.2.0" || got.Commit != "abc123" {
		t.Fatalf("unexpected info %+v", got)
	}
}
