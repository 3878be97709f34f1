package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	defer func() { Version = old }()

	if got := Short(); got != "v1.2.3" {
		t.Errorf("Short() = %q", got)
	}
	if got := Info(); !strings.HasPrefix(got, "upkeep v1.2.3 (commit ") {
		t.Errorf("Info() = %q", got)
	}
	m := Map()
	if m["version"] != "v1.2.3" || m["go_version"] == "" {
		t.Errorf("Map() = %v", m)
	}
}
