package version

import (
	"runtime/debug"
	"testing"
)

func TestResolveFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })
	if info.Version != "v0.3.1" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got := info.String(); got != "v0.3.1 (0123456789ab+dirty)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	info := resolve(func() (*debug.BuildInfo, bool) { return nil, false })
	if Version == "" && info.Version != "dev" {
		t.Fatalf("expected dev version, got %q", info.Version)
	}
	if info.GoVersion == "" {
		t.Fatal("expected go version")
	}
}

func TestDevelIgnored(t *testing.T) {
	bi := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })
	if Version == "" && info.Version != "dev" {
		t.Fatalf("expected dev, got %q", info.Version)
	}
}
