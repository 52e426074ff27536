package manager

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/provisr/internal/eventbus"
	"github.com/loykin/provisr/internal/health"
	"github.com/loykin/provisr/internal/metrics"
	"github.com/loykin/provisr/internal/persistence"
	"github.com/loykin/provisr/internal/portalloc"
	"github.com/loykin/provisr/internal/process"
)

// StartRecord launches a single (non-clustered) process and returns its record id.
// Use StartCluster when spec.Instances > 1.
func (m *Manager) StartRecord(spec process.Spec) (string, error) {
	if spec.Instances > 1 {
		ids, err := m.StartCluster(spec)
		if err != nil {
			return "", err
		}
		return ids[0], nil
	}
	return m.startOne(spec, 0, false)
}

// StartCluster launches spec.Instances instances named "{base}-{i}" for i in
// [0, spec.Instances), distributing ports per the Single/Range/Auto rules, and rolls
// the whole cluster back if any member fails to start.
func (m *Manager) StartCluster(spec process.Spec) ([]string, error) {
	n := spec.Instances
	if n <= 1 {
		id, err := m.startOne(spec, 0, false)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		inst := instanceSpec(spec, i)
		id, err := m.startOne(inst, i, true)
		if err != nil {
			for _, started := range ids {
				_ = m.Delete(started)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) startOne(spec process.Spec, instanceIndex int, hasInstance bool) (string, error) {
	key := namespaceKey(spec.Namespace, spec.Name)
	m.mu.Lock()
	if _, exists := m.nameIndex[key]; exists {
		m.mu.Unlock()
		return "", newErr(KindAlreadyExists, fmt.Sprintf("process %q already exists", spec.Name))
	}
	m.mu.Unlock()

	e := m.getOrCreateEntry(spec)
	r := newRecord(e)
	r.instanceIndex = instanceIndex
	r.hasInstance = hasInstance
	r.maxRestarts = spec.MaxRestarts

	if spec.Port != nil {
		portSpec, err := portForInstance(spec.Port, instanceIndex, spec.Instances)
		if err != nil {
			m.removeEntry(spec.Name)
			return "", err
		}
		if portSpec != nil {
			port, err := m.ports.Reserve(*portSpec, r.portOwnerID())
			if err != nil {
				m.removeEntry(spec.Name)
				return "", mapPortErr(err)
			}
			r.assignedPort = port
			r.hasPort = true
			e.spec.Env = append(e.spec.Env, fmt.Sprintf("PORT=%d", port))
			e.r.UpdateSpec(e.spec)
		}
	}

	if err := m.Start(e.spec); err != nil {
		if r.hasPort {
			m.ports.ReleasePort(r.assignedPort)
		}
		m.removeEntry(spec.Name)
		return "", wrapErr(KindSpawnFailed, fmt.Sprintf("failed to start %q", spec.Name), err)
	}

	r.state = Online
	r.startedAt = m.now()
	r.stableAt = r.startedAt

	m.mu.Lock()
	m.byID[r.id] = r
	m.nameIndex[key] = r.id
	m.mu.Unlock()

	m.persistRecord(r)
	m.bus.Publish(eventbus.Event{Type: eventbus.ProcessList, Payload: r.snapshot()})
	return r.id, nil
}

func (m *Manager) removeEntry(name string) {
	m.mu.Lock()
	delete(m.procs, name)
	m.mu.Unlock()
}

func mapPortErr(err error) error {
	switch err.(type) {
	case portalloc.ErrInUse:
		return wrapErr(KindPortInUse, "requested port is already in use", err)
	case portalloc.ErrNoFreePort:
		return wrapErr(KindNoFreePort, "no free port in requested range", err)
	default:
		return wrapErr(KindInvalidConfig, "invalid port spec", err)
	}
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	c := m.clock
	m.mu.Unlock()
	if c == nil {
		return time.Now()
	}
	return c.Now()
}

// resolveRecord resolves idOrName to a record: a lookup in byID is tried first (the
// identifier-resolution rule is UUID-first, then name), falling back to a
// "default"-namespaced name lookup.
func (m *Manager) resolveRecord(idOrName string) (*record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[idOrName]; ok {
		return r, nil
	}
	if id, ok := m.nameIndex[namespaceKey("", idOrName)]; ok {
		if r, ok := m.byID[id]; ok {
			return r, nil
		}
	}
	for _, id := range m.nameIndex {
		if r, ok := m.byID[id]; ok && r.e.spec.Name == idOrName {
			return r, nil
		}
	}
	return nil, newErr(KindNotFound, fmt.Sprintf("no such process: %s", idOrName))
}

// Restart stops and relaunches the process identified by idOrName, preserving its id,
// and increments its restart counter.
func (m *Manager) Restart(idOrName string) error {
	r, err := m.resolveRecord(idOrName)
	if err != nil {
		return err
	}
	r.state = Restarting
	if err := m.Stop(r.e.spec.Name, r.e.spec.KillTimeout); err != nil {
		r.state = Errored
		r.errorMessage = err.Error()
		return wrapErr(KindStopFailed, "restart: stop failed", err)
	}
	if err := m.Start(r.e.spec); err != nil {
		r.state = Errored
		r.errorMessage = err.Error()
		return wrapErr(KindSpawnFailed, "restart: start failed", err)
	}
	r.restartCount++
	r.state = Online
	r.startedAt = m.now()
	r.stableAt = r.startedAt
	metrics.IncRestart(r.e.spec.Name)
	m.persistRecord(r)
	m.bus.Publish(eventbus.Event{Type: eventbus.ProcessList, Payload: r.snapshot()})
	return nil
}

// Reload applies a replacement spec (e.g. an updated port assignment) to an existing
// process and restarts it under the new configuration, preserving its id.
func (m *Manager) Reload(idOrName string, portOverride *portalloc.Spec) error {
	r, err := m.resolveRecord(idOrName)
	if err != nil {
		return err
	}
	newSpec := r.e.spec
	if portOverride != nil {
		if r.hasPort {
			m.ports.ReleasePort(r.assignedPort)
			r.hasPort = false
		}
		port, err := m.ports.Reserve(*portOverride, r.portOwnerID())
		if err != nil {
			return mapPortErr(err)
		}
		r.assignedPort = port
		r.hasPort = true
		newSpec.Port = portOverride
		newSpec.Env = append(newSpec.Env, fmt.Sprintf("PORT=%d", port))
	}
	r.e.spec = newSpec
	r.e.r.UpdateSpec(newSpec)
	return m.Restart(idOrName)
}

// Delete force-stops the process, releases its port, removes its persisted checkpoint
// triad, and drops it from both indexes.
func (m *Manager) Delete(idOrName string) error {
	r, err := m.resolveRecord(idOrName)
	if err != nil {
		return err
	}
	r.state = Stopping
	_ = m.Stop(r.e.spec.Name, r.e.spec.KillTimeout)
	if r.hasPort {
		m.ports.ReleasePort(r.assignedPort)
	}
	m.mu.Lock()
	delete(m.procs, r.e.spec.Name)
	delete(m.byID, r.id)
	delete(m.nameIndex, namespaceKey(r.namespace, r.e.spec.Name))
	persist := m.persist
	m.mu.Unlock()
	if persist != nil {
		persist.Remove(r.e.spec.Name)
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.ProcessList, Payload: nil})
	return nil
}

// DeleteAll deletes every managed process and returns how many were removed.
func (m *Manager) DeleteAll() (int, error) {
	ids := m.allIDs()
	removed := 0
	for _, id := range ids {
		if err := m.Delete(id); err != nil && !IsKind(err, KindNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DeleteByState deletes every process currently in the named state (case-insensitive)
// and returns how many were removed. An unrecognized state name is InvalidArgument.
func (m *Manager) DeleteByState(stateName string) (int, error) {
	st, ok := parseState(strings.ToLower(stateName))
	if !ok {
		return 0, newErr(KindInvalidArgument, fmt.Sprintf("unknown state %q", stateName))
	}
	var matched []string
	m.mu.Lock()
	for id, r := range m.byID {
		if r.state == st {
			matched = append(matched, id)
		}
	}
	m.mu.Unlock()
	count := 0
	for _, id := range matched {
		if err := m.Delete(id); err == nil {
			count++
		}
	}
	return count, nil
}

func (m *Manager) allIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids
}

// List returns a snapshot of every managed record.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	records := make([]*record, 0, len(m.byID))
	for _, r := range m.byID {
		records = append(records, r)
	}
	m.mu.Unlock()
	out := make([]Snapshot, 0, len(records))
	for _, r := range records {
		out = append(out, r.snapshot())
	}
	return out
}

// ReadLogs returns up to tailLines of the process's stdout log, most recent last.
func (m *Manager) ReadLogs(name string, tailLines int) ([]string, error) {
	e := m.get(name)
	if e == nil {
		return nil, newErr(KindNotFound, fmt.Sprintf("no such process: %s", name))
	}
	path := e.spec.Log.File.StdoutFilePath(name)
	if path == "" {
		return nil, newErr(KindInvalidConfig, "process has no configured log file")
	}
	f, err := os.Open(path) // #nosec G304 -- operator-configured log path
	if err != nil {
		return nil, wrapErr(KindIOError, "failed to open log file", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if tailLines > 0 && len(lines) > tailLines {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, wrapErr(KindIOError, "failed to read log file", err)
	}
	return lines, nil
}

// FollowLogs streams newly appended lines of the process's stdout log until ctx is
// canceled. It watches the log file with fsnotify rather than polling.
func (m *Manager) FollowLogs(ctx context.Context, name string) (<-chan string, error) {
	e := m.get(name)
	if e == nil {
		return nil, newErr(KindNotFound, fmt.Sprintf("no such process: %s", name))
	}
	path := e.spec.Log.File.StdoutFilePath(name)
	if path == "" {
		return nil, newErr(KindInvalidConfig, "process has no configured log file")
	}

	f, err := os.Open(path) // #nosec G304 -- operator-configured log path
	if err != nil {
		return nil, wrapErr(KindIOError, "failed to open log file", err)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		_ = f.Close()
		return nil, wrapErr(KindIOError, "failed to seek log file", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, wrapErr(KindInternal, "failed to create file watcher", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = f.Close()
		_ = watcher.Close()
		return nil, wrapErr(KindIOError, "failed to watch log file", err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()
		defer func() { _ = f.Close() }()
		reader := bufio.NewReader(f)
		drain := func() {
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					select {
					case out <- strings.TrimRight(line, "\n"):
					case <-ctx.Done():
						return
					}
				}
				if err != nil {
					return
				}
			}
		}
		drain()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					drain()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// Recover implements the startup recovery algorithm: every persisted spec becomes a
// Stopped record, restored from meta.json when present, and promoted to Online with
// its port re-reserved if its last known pid is still alive; a stale pid file is
// removed. Call once, after SetPersistence, before serving any other operation.
func (m *Manager) Recover() []string {
	m.mu.Lock()
	persist := m.persist
	m.mu.Unlock()
	if persist == nil {
		return nil
	}

	entries, warnings := persist.Scan()
	for _, ent := range entries {
		e := m.getOrCreateEntry(ent.Spec)
		r := newRecord(e)
		r.state = Stopped
		r.namespace = ent.Spec.Namespace
		r.maxRestarts = ent.Spec.MaxRestarts

		if ent.MetaOK {
			r.id = ent.Meta.ID
			r.instanceIndex = ent.Meta.InstanceIndex
			r.hasInstance = ent.Meta.InstanceIndex > 0
			if ent.Meta.AssignedPort != 0 {
				r.assignedPort = ent.Meta.AssignedPort
				r.hasPort = true
			}
		}

		if pid, ok := persist.ReadPID(ent.Name); ok {
			if process.PIDAlive(pid) {
				r.state = Online
				e.r.AdoptPID(pid)
				if r.hasPort {
					if err := m.ports.ReserveExact(r.assignedPort, r.portOwnerID()); err != nil {
						warnings = append(warnings, fmt.Sprintf("%s: could not re-reserve port %d: %v", ent.Name, r.assignedPort, err))
					}
				}
			} else {
				persist.RemovePID(ent.Name)
			}
		}

		m.mu.Lock()
		m.byID[r.id] = r
		m.nameIndex[namespaceKey(r.namespace, ent.Name)] = r.id
		m.mu.Unlock()
	}
	return warnings
}

func (m *Manager) persistRecord(r *record) {
	m.mu.Lock()
	persist := m.persist
	m.mu.Unlock()
	if persist == nil {
		return
	}
	_ = persist.WriteSpec(r.e.spec.Name, r.e.spec)
	_ = persist.WriteMeta(r.e.spec.Name, persistence.Meta{
		ID:            r.id,
		AssignedPort:  r.assignedPort,
		InstanceIndex: r.instanceIndex,
	})
	if pid := r.e.r.Snapshot().PID; pid > 0 {
		_ = persist.WritePID(r.e.spec.Name, pid)
	}
}

// runHealthChecks probes every record with a configured, enabled health check and
// applies the resulting state transition. Intended to be called once per reconcile
// tick.
func (m *Manager) runHealthChecks(ctx context.Context, records []*record, now time.Time) {
	for _, r := range records {
		hc := r.e.spec.HealthCheck
		if hc == nil || !hc.Enabled {
			continue
		}
		res := health.RunOnce(ctx, *hc)
		r.health = health.UpdateStatus(r.health, res, hc.Retries, now)
		if r.health.State == health.Unhealthy && r.e.spec.AutoRestart && r.withinRestartBudget() {
			_ = m.Restart(r.id)
		}
	}
}

// enforceMemoryThreshold restarts any record whose sampled RSS exceeds its configured
// MaxMemoryBytes.
func (m *Manager) enforceMemoryThreshold(records []*record) {
	for _, r := range records {
		if r.e.spec.MaxMemoryBytes == 0 {
			continue
		}
		if r.metrics.MemoryRSS > r.e.spec.MaxMemoryBytes && r.withinRestartBudget() {
			_ = m.Restart(r.id)
		}
	}
}

// sampleMetrics refreshes the per-record resource sample used by the memory-threshold
// policy and exposed through List/Snapshot.
func (m *Manager) sampleMetrics(records []*record) {
	for _, r := range records {
		rs := r.e.r.Snapshot()
		if !rs.Running || rs.PID <= 0 {
			continue
		}
		if sample, err := metrics.SampleOne(r.e.spec.Name, int32(rs.PID)); err == nil {
			r.metrics = sample
		}
	}
}
