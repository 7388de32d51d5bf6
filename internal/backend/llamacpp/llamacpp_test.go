package llamacpp

import (
	"errors"
	"testing"
)

func TestLibraryDir(t *testing.T) {
	t.Setenv(LibraryEnv, "")
	if got := LibraryDir(""); got != defaultLibraryDir {
		t.Fatalf("default dir = %q", got)
	}

	t.Setenv(LibraryEnv, "/opt/llama")
	if got := LibraryDir(""); got != "/opt/llama" {
		t.Fatalf("env dir = %q", got)
	}
	if got := LibraryDir("/srv/lib"); got != "/srv/lib" {
		t.Fatalf("configured dir must win, got %q", got)
	}
}

func TestBackendName(t *testing.T) {
	b := New("", nil)
	if b.Name() != Name {
		t.Fatalf("Name() = %q", b.Name())
	}
}

func TestLifecycleRecreatesOnlyDirtyContexts(t *testing.T) {
	t.Parallel()

	var opens, releases int
	openErr := error(nil)
	open := func() error {
		if openErr != nil {
			return openErr
		}
		opens++
		return nil
	}
	release := func() { releases++ }

	var l lifecycle
	if err := l.reset(open, release); err != nil || opens != 1 || releases != 0 {
		t.Fatalf("first reset: err=%v opens=%d releases=%d", err, opens, releases)
	}
	if err := l.reset(open, release); err != nil || opens != 1 {
		t.Fatalf("a clean context must be kept: err=%v opens=%d", err, opens)
	}

	l.dirty = true
	if err := l.reset(open, release); err != nil || opens != 2 || releases != 1 {
		t.Fatalf("dirty reset: err=%v opens=%d releases=%d", err, opens, releases)
	}

	l.dirty = true
	openErr = errors.New("out of memory")
	if err := l.reset(open, release); !errors.Is(err, openErr) || l.live {
		t.Fatalf("failed reopen: err=%v live=%v", err, l.live)
	}
	openErr = nil
	if err := l.reset(open, release); err != nil || !l.live || releases != 2 {
		t.Fatalf("retry after failure: err=%v live=%v releases=%d", err, l.live, releases)
	}

	l.close(release)
	l.close(release)
	if releases != 3 {
		t.Fatalf("close must release once, got %d releases", releases)
	}
	if err := l.reset(open, release); !errors.Is(err, ErrClosed) {
		t.Fatalf("reset after close: %v", err)
	}
}
