package manager

import (
	"testing"
	"time"

	"github.com/loykin/provisr/internal/process"
)

// TestRecordStableWindowUsesStartDuration confirms the restart-counter-reset window
// follows a process's own StartDuration rather than a single fixed constant, falling
// back to defaultMinStableUptime only when StartDuration is unset.
func TestRecordStableWindowUsesStartDuration(t *testing.T) {
	short := &record{e: &entry{spec: process.Spec{Name: "short", StartDuration: 2 * time.Second}}}
	if got := short.stableWindow(); got != 2*time.Second {
		t.Fatalf("expected 2s stability window, got %v", got)
	}

	long := &record{e: &entry{spec: process.Spec{Name: "long", StartDuration: 5 * time.Minute}}}
	if got := long.stableWindow(); got != 5*time.Minute {
		t.Fatalf("expected 5m stability window, got %v", got)
	}

	unset := &record{e: &entry{spec: process.Spec{Name: "unset"}}}
	if got := unset.stableWindow(); got != defaultMinStableUptime {
		t.Fatalf("expected default %v stability window, got %v", defaultMinStableUptime, got)
	}
}
