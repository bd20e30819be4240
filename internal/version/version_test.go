package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc1234"},
			{Key: "vcs.time", Value: "2025-01-27T10:30:00Z"},
		},
	}

	info := Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"}
	fillFromBuildInfo(&info, bi)
	if info.Version != "v1.2.3" || info.GitCommit != "abc1234" || info.BuildDate != "2025-01-27T10:30:00Z" {
		t.Errorf("unexpected info %+v", info)
	}

	// ldflags values win.
	info = Info{Version: "1.0.0", GitCommit: "deadbee", BuildDate: "today"}
	fillFromBuildInfo(&info, bi)
	if info.Version != "1.0.0" || info.GitCommit != "deadbee" || info.BuildDate != "today" {
		t.Errorf("ldflags values overwritten: %+v", info)
	}
}

func TestFillFromBuildInfoDevel(t *testing.T) {
	info := Info{Version: "dev"}
	fillFromBuildInfo(&info, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
}

func TestString(t *testing.T) {
	if got := String(); !strings.HasPrefix(got, Name+" ") {
		t.Errorf("String() = %q", got)
	}
}
