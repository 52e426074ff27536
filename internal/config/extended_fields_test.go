package config

import (
	"testing"

	"github.com/loykin/provisr/internal/health"
	"github.com/loykin/provisr/internal/portalloc"
	"github.com/loykin/provisr/internal/process"
)

func TestApplyExtendedFieldsDefaults(t *testing.T) {
	sp := process.Spec{Name: "web"}
	if err := applyExtendedFields(&sp, map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sp.Namespace != "default" {
		t.Fatalf("expected default namespace, got %q", sp.Namespace)
	}
	if sp.ExecMode != process.ExecFork {
		t.Fatalf("expected fork exec mode, got %q", sp.ExecMode)
	}
}

func TestApplyExtendedFieldsClusterForced(t *testing.T) {
	sp := process.Spec{Name: "web", Instances: 3}
	if err := applyExtendedFields(&sp, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if sp.ExecMode != process.ExecCluster {
		t.Fatalf("expected cluster exec mode forced by instances>1, got %q", sp.ExecMode)
	}
}

func TestApplyExtendedFieldsPort(t *testing.T) {
	sp := process.Spec{Name: "web"}
	if err := applyExtendedFields(&sp, map[string]any{"port": "auto:9000-9010"}); err != nil {
		t.Fatal(err)
	}
	if sp.Port == nil || sp.Port.Kind != portalloc.Auto {
		t.Fatalf("expected parsed Auto port spec, got %+v", sp.Port)
	}
}

func TestApplyExtendedFieldsHealthCheck(t *testing.T) {
	sp := process.Spec{Name: "web"}
	raw := map[string]any{
		"health_check": map[string]any{
			"type": "http",
			"url":  "http://localhost:8080/healthz",
		},
	}
	if err := applyExtendedFields(&sp, raw); err != nil {
		t.Fatal(err)
	}
	if sp.HealthCheck == nil || sp.HealthCheck.Kind != health.HTTPKind {
		t.Fatalf("expected http health spec, got %+v", sp.HealthCheck)
	}
}

func TestParseMemoryForms(t *testing.T) {
	cases := []struct {
		in   any
		want uint64
	}{
		{"256M", 256 * 1 << 20},
		{"1GB", 1 << 30},
		{"512K", 512 * 1 << 10},
		{"100B", 100},
		{"2048", 2048},
		{2048, 2048},
	}
	for _, tc := range cases {
		got, err := parseMemory(tc.in)
		if err != nil {
			t.Fatalf("parseMemory(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseMemory(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseMemoryInvalid(t *testing.T) {
	for _, in := range []string{"abc", "-5M", "5XB"} {
		if _, err := parseMemory(in); err == nil {
			t.Fatalf("expected error parsing %q", in)
		}
	}
}
