package cfgfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfreak.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadStripsCommentsAndBlankLines(t *testing.T) {
	path := writeTempConfig(t, `
# a top-level comment
service web cmd=true   # trailing comment

service web startwait_secs=1
`)
	lines, err := Load(path, "/base")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"service web cmd=true", "service web startwait_secs=1"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLoadSubstitutesBase(t *testing.T) {
	path := writeTempConfig(t, `service web cwd=${BASE}/run`)
	lines, err := Load(path, "/var/lib/cfreak")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lines) != 1 || lines[0] != "service web cwd=/var/lib/cfreak/run" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestLoadOrdersLoggerLinesFirst(t *testing.T) {
	path := writeTempConfig(t, `
service web cmd=true
logger level=debug
socket sk host=127.0.0.1
`)
	lines, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %v, want 3", lines)
	}
	if lines[0] != "logger level=debug" {
		t.Fatalf("lines[0] = %q, want the logger line first", lines[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.conf", ""); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
