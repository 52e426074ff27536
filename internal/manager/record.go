package manager

import (
	"time"

	"github.com/google/uuid"

	"github.com/loykin/provisr/internal/health"
	"github.com/loykin/provisr/internal/metrics"
	"github.com/loykin/provisr/internal/portalloc"
	"github.com/loykin/provisr/internal/process"
)

// defaultMinStableUptime is the stability window used when a record's process spec
// leaves StartDuration unset, matching the teacher's previous fixed-60s behavior.
const defaultMinStableUptime = 60 * time.Second

// State is a ProcessRecord's lifecycle state.
type State int

const (
	Starting State = iota
	Online
	Stopping
	Stopped
	Errored
	Restarting
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Online:
		return "online"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	case Restarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// parseState accepts the case-insensitive spelling of a State, as required by
// DeleteByState's argument. Callers pass the already-lowercased string.
func parseState(s string) (State, bool) {
	switch s {
	case "starting":
		return Starting, true
	case "online":
		return Online, true
	case "stopping":
		return Stopping, true
	case "stopped":
		return Stopped, true
	case "errored":
		return Errored, true
	case "restarting":
		return Restarting, true
	default:
		return 0, false
	}
}

// record is a ProcessRecord: the supervision engine's per-instance bookkeeping,
// layered on top of the entry/Process pair that the fork/exec and monitoring
// plumbing already provides. One record exists per launched instance, including
// every member of a cluster.
type record struct {
	e *entry

	id            string
	namespace     string
	instanceIndex int
	hasInstance   bool

	state        State
	restartCount int
	maxRestarts  int
	startedAt    time.Time
	stableAt     time.Time
	errorMessage string

	assignedPort uint16
	hasPort      bool

	metrics metrics.ProcessMetrics
	health  health.Status
}

func newRecord(e *entry) *record {
	return &record{
		e:         e,
		id:        uuid.NewString(),
		namespace: e.spec.Namespace,
		state:     Starting,
	}
}

// Snapshot is the read-only projection of a record returned by List and the REST/WS
// control plane.
type Snapshot struct {
	ID            string
	Name          string
	Namespace     string
	State         State
	PID           int
	InstanceIndex int
	HasInstance   bool
	AssignedPort  uint16
	HasPort       bool
	RestartCount  int
	StartedAt     time.Time
	ErrorMessage  string
	Metrics       metrics.ProcessMetrics
	Health        health.Status
	Spec          process.Spec
}

func (r *record) snapshot() Snapshot {
	rs := r.e.r.Snapshot()
	return Snapshot{
		ID:            r.id,
		Name:          r.e.spec.Name,
		Namespace:     r.namespace,
		State:         r.state,
		PID:           rs.PID,
		InstanceIndex: r.instanceIndex,
		HasInstance:   r.hasInstance,
		AssignedPort:  r.assignedPort,
		HasPort:       r.hasPort,
		RestartCount:  r.restartCount,
		StartedAt:     r.startedAt,
		ErrorMessage:  r.errorMessage,
		Metrics:       r.metrics,
		Health:        r.health,
		Spec:          r.e.spec,
	}
}

// withinRestartBudget reports whether another auto-restart is allowed: maxRestarts <= 0
// means unlimited, matching the zero-value default of an unset MaxRestarts field.
func (r *record) withinRestartBudget() bool {
	return r.maxRestarts <= 0 || r.restartCount < r.maxRestarts
}

// stableWindow is how long this record must stay Online before a later crash resets
// its restart counter rather than counting against max_restarts. It follows the
// process's own StartDuration (min_uptime) when set, falling back to
// defaultMinStableUptime otherwise.
func (r *record) stableWindow() time.Duration {
	if r.e.spec.StartDuration > 0 {
		return r.e.spec.StartDuration
	}
	return defaultMinStableUptime
}

// portOwnerID is the stable key used in the port allocator's owner table, so that a
// restart releasing and re-reserving its own port doesn't collide with itself.
func (r *record) portOwnerID() string { return r.id }

// instanceSpec synthesizes the per-instance spec for a cluster member: suffixed name,
// and INSTANCE_ID/APP_INSTANCE environment injection.
func instanceSpec(base process.Spec, index int) process.Spec {
	if base.Instances <= 1 {
		return base
	}
	inst := base
	inst.Name = base.Name + "-" + itoa(index)
	inst.Env = append(append([]string(nil), base.Env...),
		"INSTANCE_ID="+itoa(index),
		"APP_INSTANCE="+itoa(index),
	)
	return inst
}

func itoa(i int) string {
	// local helper to avoid importing strconv solely for this in two call sites
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// portForInstance resolves which port spec (if any) a given cluster member should
// reserve, per the Single/Range/Auto distribution rules: Single is only ever granted to
// instance 0; Range hands out one port per index (InsufficientPorts if the range is
// narrower than Instances); Auto lets every instance allocate independently from the
// shared window.
func portForInstance(base *portalloc.Spec, index, instances int) (*portalloc.Spec, error) {
	if base == nil {
		return nil, nil
	}
	switch base.Kind {
	case portalloc.Single:
		if index != 0 {
			return nil, nil
		}
		s := *base
		return &s, nil
	case portalloc.Range:
		if base.Width() < instances {
			return nil, &Error{Kind: KindInsufficientPorts, Message: "port range too narrow for instance count"}
		}
		p := base.Lo + uint16(index)
		s := portalloc.SinglePort(p)
		return &s, nil
	case portalloc.Auto:
		s := *base
		return &s, nil
	default:
		return nil, newErr(KindInvalidConfig, "invalid port spec kind")
	}
}
