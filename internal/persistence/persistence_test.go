package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/provisr/internal/process"
)

func TestWriteAndScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	spec := process.Spec{Name: "web", Command: "/bin/true", Instances: 1}
	if err := s.WriteSpec("web", spec); err != nil {
		t.Fatalf("WriteSpec: %v", err)
	}
	meta := Meta{ID: "abc-123", AssignedPort: 8080, InstanceIndex: 0, LastKnownPID: 4242}
	if err := s.WriteMeta("web", meta); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	entries, warnings := s.Scan()
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "web" || e.Spec.Command != "/bin/true" {
		t.Fatalf("unexpected spec entry: %+v", e)
	}
	if !e.MetaOK || e.Meta.ID != "abc-123" || e.Meta.AssignedPort != 8080 {
		t.Fatalf("unexpected meta entry: %+v", e)
	}
}

func TestScanSkipsMetaFilesAndTolerateParseFailure(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.WriteSpec("good", process.Spec{Name: "good", Command: "/bin/true"}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteMeta("good", Meta{ID: "g"}); err != nil {
		t.Fatal(err)
	}
	// A malformed spec file must be skipped, not fatal.
	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, warnings := s.Scan()
	if len(entries) != 1 || entries[0].Name != "good" {
		t.Fatalf("expected only 'good' to survive scan, got %+v", entries)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning for the bad file, got %v", warnings)
	}
}

func TestScanMissingMetaIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.WriteSpec("lonely", process.Spec{Name: "lonely", Command: "/bin/true"}); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Scan()
	if len(entries) != 1 || entries[0].MetaOK {
		t.Fatalf("expected MetaOK=false with no meta.json present, got %+v", entries)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.WritePID("web", 555); err != nil {
		t.Fatal(err)
	}
	pid, ok := s.ReadPID("web")
	if !ok || pid != 555 {
		t.Fatalf("ReadPID = (%d, %v), want (555, true)", pid, ok)
	}
	s.RemovePID("web")
	if _, ok := s.ReadPID("web"); ok {
		t.Fatal("expected pid file to be gone after RemovePID")
	}
}

func TestReadPIDMissingIsAbsentNotError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if _, ok := s.ReadPID("nope"); ok {
		t.Fatal("expected absent pid file to report ok=false")
	}
}

func TestRemoveDeletesFullTriad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	_ = s.WriteSpec("x", process.Spec{Name: "x"})
	_ = s.WriteMeta("x", Meta{ID: "1"})
	_ = s.WritePID("x", 99)

	s.Remove("x")

	entries, _ := s.Scan()
	if len(entries) != 0 {
		t.Fatalf("expected no entries after Remove, got %+v", entries)
	}
	if _, ok := s.ReadMeta("x"); ok {
		t.Fatal("expected meta.json removed")
	}
	if _, ok := s.ReadPID("x"); ok {
		t.Fatal("expected pid file removed")
	}
}
