// Package persistence implements the on-disk checkpoint triad described for the
// supervision engine: a human-editable `{name}.json` spec file, a `{name}.meta.json`
// record of identity/assignment, and a `pids/{name}.pid` last-known-pid file. It is
// deliberately separate from internal/store (optional DB-backed history of starts and
// stops) and internal/config (the external loader that turns a config file into specs
// in the first place) — this package is the engine's own runtime checkpoint, consulted
// once at startup to recover state across a supervisor restart.
//
// The write side mirrors internal/process.WritePIDFile/RemovePIDFile: best-effort,
// whole-file overwrites, tolerant of a missing directory.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/provisr/internal/process"
)

// Meta is the small, frequently-rewritten record of assignment state that accompanies
// a spec file: identity, port assignment, and cluster position.
type Meta struct {
	ID            string `json:"id"`
	AssignedPort  uint16 `json:"assigned_port,omitempty"`
	InstanceIndex int    `json:"instance_index"`
	LastKnownPID  int    `json:"last_known_pid,omitempty"`
}

// Store reads and writes the checkpoint triad under a single configuration directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir and its pids/ subdirectory are created lazily
// on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) specPath(name string) string { return filepath.Join(s.dir, name+".json") }
func (s *Store) metaPath(name string) string { return filepath.Join(s.dir, name+".meta.json") }
func (s *Store) pidPath(name string) string  { return filepath.Join(s.dir, "pids", name+".pid") }

// WriteSpec overwrites the {name}.json file with spec's current configuration.
func (s *Store) WriteSpec(name string, spec process.Spec) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.specPath(name), b, 0o600)
}

// WriteMeta overwrites the {name}.meta.json file.
func (s *Store) WriteMeta(name string, meta Meta) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(name), b, 0o600)
}

// WritePID overwrites pids/{name}.pid with pid as decimal text.
func (s *Store) WritePID(name string, pid int) error {
	if err := os.MkdirAll(filepath.Join(s.dir, "pids"), 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.pidPath(name), []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePID removes pids/{name}.pid, best-effort.
func (s *Store) RemovePID(name string) {
	_ = os.Remove(s.pidPath(name))
}

// ReadPID reads pids/{name}.pid; a missing or unparseable file is reported as absent,
// not an error, matching the "parse failure means absent" tolerance policy.
func (s *Store) ReadPID(name string) (pid int, ok bool) {
	b, err := os.ReadFile(s.pidPath(name))
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadMeta reads {name}.meta.json; a missing or unparseable file is reported as absent.
func (s *Store) ReadMeta(name string) (Meta, bool) {
	b, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		return Meta{}, false
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false
	}
	return m, true
}

// Entry is one recovered {spec, meta} pair produced by Scan.
type Entry struct {
	Name string
	Spec process.Spec
	Meta Meta
	// MetaOK reports whether a meta.json file was present and parsed; the recovery
	// algorithm only restores id/assigned_port/instance_index/last_known_pid when
	// this is true.
	MetaOK bool
}

// Scan lists every `{name}.json` in dir (skipping `*.meta.json`, which is not itself a
// spec file) and parses each into an Entry, pairing it with its meta.json if present.
// A spec file that fails to parse is skipped, not treated as fatal — this implements
// step 1 of the startup recovery algorithm; the caller performs steps 2-5 (creating the
// Stopped record, restoring identity, and re-attaching to a live pid) since those
// require the Supervisor's port table and process-liveness check.
func (s *Store) Scan() ([]Entry, []string) {
	var entries []Entry
	var warnings []string

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, []string{err.Error()}
	}
	for _, path := range matches {
		base := filepath.Base(path)
		if strings.HasSuffix(base, ".meta.json") {
			continue
		}
		name := strings.TrimSuffix(base, ".json")

		b, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, name+": "+err.Error())
			continue
		}
		var spec process.Spec
		if err := json.Unmarshal(b, &spec); err != nil {
			warnings = append(warnings, name+": "+err.Error())
			continue
		}

		meta, ok := s.ReadMeta(name)
		entries = append(entries, Entry{Name: name, Spec: spec, Meta: meta, MetaOK: ok})
	}
	return entries, warnings
}

// Remove deletes the full checkpoint triad for name, best-effort.
func (s *Store) Remove(name string) {
	_ = os.Remove(s.specPath(name))
	_ = os.Remove(s.metaPath(name))
	s.RemovePID(name)
}
