// Package portalloc implements the port declaration variant (PortSpec) and the
// in-memory, mutex-protected port bookkeeping table described by the supervision
// engine's port allocation contract.
package portalloc

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the PortSpec variant.
type Kind int

const (
	// Single reserves exactly one fixed port.
	Single Kind = iota
	// Range reserves every port in an inclusive [Lo, Hi] window atomically.
	Range
	// Auto scans an inclusive [Lo, Hi] window and reserves the first free port.
	Auto
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Range:
		return "range"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// Spec is the tagged PortSpec variant: Single(p), Range(lo,hi), Auto(lo,hi).
type Spec struct {
	Kind Kind
	Lo   uint16
	Hi   uint16 // only meaningful for Range/Auto; for Single, Hi==Lo
}

// SinglePort builds a Single PortSpec.
func SinglePort(p uint16) Spec { return Spec{Kind: Single, Lo: p, Hi: p} }

// RangePort builds a Range PortSpec.
func RangePort(lo, hi uint16) Spec { return Spec{Kind: Range, Lo: lo, Hi: hi} }

// AutoPort builds an Auto PortSpec.
func AutoPort(lo, hi uint16) Spec { return Spec{Kind: Auto, Lo: lo, Hi: hi} }

// Validate enforces the lo<=hi invariant for Range/Auto specs.
func (s Spec) Validate() error {
	switch s.Kind {
	case Single:
		return nil
	case Range, Auto:
		if s.Lo > s.Hi {
			return fmt.Errorf("port spec %s: lo (%d) must be <= hi (%d)", s.Kind, s.Lo, s.Hi)
		}
		return nil
	default:
		return fmt.Errorf("invalid port spec kind %d", s.Kind)
	}
}

// Width returns how many ports the spec spans (1 for Single, hi-lo+1 otherwise).
func (s Spec) Width() int {
	switch s.Kind {
	case Single:
		return 1
	default:
		return int(s.Hi) - int(s.Lo) + 1
	}
}

// String formats the spec as "N", "lo-hi", or "auto:lo-hi" — the inverse of Parse.
func (s Spec) String() string {
	switch s.Kind {
	case Single:
		return strconv.Itoa(int(s.Lo))
	case Range:
		return fmt.Sprintf("%d-%d", s.Lo, s.Hi)
	case Auto:
		return fmt.Sprintf("auto:%d-%d", s.Lo, s.Hi)
	default:
		return ""
	}
}

// Parse parses "N", "lo-hi", or "auto:lo-hi" into a Spec. It is the inverse of String,
// i.e. Parse(s.String()) == s for every valid Spec.
func Parse(raw string) (Spec, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Spec{}, fmt.Errorf("empty port spec")
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "auto:") {
		rest := trimmed[len("auto:"):]
		lo, hi, err := parseRange(rest)
		if err != nil {
			return Spec{}, fmt.Errorf("invalid auto port spec %q: %w", raw, err)
		}
		s := AutoPort(lo, hi)
		return s, s.Validate()
	}
	if strings.Contains(trimmed, "-") {
		lo, hi, err := parseRange(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("invalid range port spec %q: %w", raw, err)
		}
		s := RangePort(lo, hi)
		return s, s.Validate()
	}
	n, err := strconv.ParseUint(trimmed, 10, 16)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid port spec %q: %w", raw, err)
	}
	return SinglePort(uint16(n)), nil
}

func parseRange(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected lo-hi, got %q", s)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(lo), uint16(hi), nil
}
