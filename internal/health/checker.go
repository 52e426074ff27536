package health

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a single probe.
type Result struct {
	OK     bool
	Reason string
}

// RunOnce executes spec's probe exactly once. HTTP probes succeed on any 2xx status;
// timeouts and transport errors both count as failure. Script probes succeed on exit
// code 0 with stdin/stdout/stderr discarded.
func RunOnce(ctx context.Context, spec Spec) Result {
	switch spec.Kind {
	case HTTPKind:
		return runHTTP(ctx, spec)
	case ScriptKind:
		return runScript(ctx, spec)
	default:
		return Result{OK: false, Reason: fmt.Sprintf("unknown health check kind %d", spec.Kind)}
	}
}

func runHTTP(ctx context.Context, spec Spec) Result {
	cctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return Result{OK: false, Reason: err.Error()}
	}
	client := &http.Client{Timeout: spec.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{OK: false, Reason: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return Result{OK: true}
	}
	return Result{OK: false, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
}

// buildScriptCommand avoids invoking a shell unless the path contains obvious shell
// metacharacters, matching the shell-aware construction used elsewhere in this
// codebase (internal/detector.buildShellAwareCommand, internal/process.Spec.BuildCommand).
func buildScriptCommand(ctx context.Context, path string) *exec.Cmd {
	trimmed := strings.TrimSpace(path)
	if strings.ContainsAny(trimmed, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204 -- operator-configured health check path, not untrusted input
		return exec.CommandContext(ctx, "/bin/sh", "-c", trimmed)
	}
	// #nosec G204 -- operator-configured health check path, not untrusted input
	return exec.CommandContext(ctx, trimmed)
}

func runScript(ctx context.Context, spec Spec) Result {
	cctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := buildScriptCommand(cctx, spec.Path)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return Result{OK: false, Reason: err.Error()}
	}
	return Result{OK: true}
}

// UpdateStatus applies the health state-update policy to prev given the outcome of a
// probe taken at now: consecutive_failures >= retries flips the state to Unhealthy; a
// first failure observed while still Unknown is surfaced immediately (Unhealthy)
// without needing to cross the retry threshold; any success resets to Healthy.
func UpdateStatus(prev Status, res Result, retries int, now time.Time) Status {
	next := prev
	next.TotalChecks++
	next.LastCheckAt = now

	if res.OK {
		next.State = Healthy
		next.LastSuccessAt = now
		next.ConsecutiveFailures = 0
		next.LastError = ""
		return next
	}

	next.ConsecutiveFailures++
	next.LastError = res.Reason
	if retries <= 0 {
		retries = 1
	}
	if next.ConsecutiveFailures >= retries {
		next.State = Unhealthy
	} else if prev.State == Unknown {
		next.State = Unhealthy
	}
	return next
}
