package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/provisr/internal/health"
	"github.com/loykin/provisr/internal/portalloc"
	"github.com/loykin/provisr/internal/process"
)

// applyExtendedFields decodes the fields of raw that process.Spec's own mapstructure
// tags deliberately opt out of (port, health_check, max_memory_bytes) because they need
// custom parsing rather than a straight field-by-field decode, plus the plain string
// fields namespace/exec_mode that decodeTo already populated but which get defaulted
// here.
func applyExtendedFields(sp *process.Spec, raw map[string]any) error {
	if strings.TrimSpace(sp.Namespace) == "" {
		sp.Namespace = "default"
	}
	if sp.ExecMode == "" {
		sp.ExecMode = process.ExecFork
	}
	if sp.Instances > 1 {
		sp.ExecMode = process.ExecCluster
	}

	if v, ok := raw["port"]; ok {
		spec, err := parsePortField(v)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		sp.Port = spec
	}

	if v, ok := raw["health_check"]; ok {
		spec, err := parseHealthField(v)
		if err != nil {
			return fmt.Errorf("health_check: %w", err)
		}
		sp.HealthCheck = spec
	}

	if v, ok := raw["max_memory_bytes"]; ok {
		n, err := parseMemory(v)
		if err != nil {
			return fmt.Errorf("max_memory_bytes: %w", err)
		}
		sp.MaxMemoryBytes = n
	}

	return nil
}

func parsePortField(v any) (*portalloc.Spec, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		spec, err := portalloc.Parse(t)
		if err != nil {
			return nil, err
		}
		return &spec, nil
	case int:
		spec := portalloc.SinglePort(uint16(t))
		return &spec, nil
	case float64:
		spec := portalloc.SinglePort(uint16(t))
		return &spec, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported port value type %T", v)
	}
}

func parseHealthField(v any) (*health.Spec, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("health_check must be a map, got %T", v)
	}
	kc, err := decodeTo[health.KindConfig](m)
	if err != nil {
		return nil, err
	}
	spec, err := kc.ToSpec()
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// parseMemory accepts an integer byte count or a string with a case-insensitive
// B|K|KB|M|MB|G|GB suffix and a decimal numerator (e.g. "256M", "1.5GB", "2048").
func parseMemory(v any) (uint64, error) {
	switch t := v.(type) {
	case int:
		if t < 0 {
			return 0, fmt.Errorf("negative memory value %d", t)
		}
		return uint64(t), nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("negative memory value %d", t)
		}
		return uint64(t), nil
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("negative memory value %v", t)
		}
		return uint64(t), nil
	case string:
		return parseMemoryString(t)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported max_memory_bytes type %T", v)
	}
}

var memorySuffixes = []struct {
	suffix     string
	multiplier float64
}{
	{"GB", 1 << 30},
	{"G", 1 << 30},
	{"MB", 1 << 20},
	{"M", 1 << 20},
	{"KB", 1 << 10},
	{"K", 1 << 10},
	{"B", 1},
}

func parseMemoryString(s string) (uint64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, nil
	}
	upper := strings.ToUpper(trimmed)
	for _, ms := range memorySuffixes {
		if strings.HasSuffix(upper, ms.suffix) {
			numPart := strings.TrimSpace(trimmed[:len(trimmed)-len(ms.suffix)])
			f, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
			}
			if f < 0 {
				return 0, fmt.Errorf("negative memory value %q", s)
			}
			return uint64(f * ms.multiplier), nil
		}
	}
	// No recognized suffix: parse as a bare decimal byte count.
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative memory value %q", s)
	}
	return uint64(f), nil
}
