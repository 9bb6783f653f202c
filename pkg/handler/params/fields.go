package params

import (
	"strconv"
	"strings"
)

type ValidationLevel int

const (
	ValidationLevelMAG ValidationLevel = iota
	ValidationLevelGene
	ValidationLevelUnknown
)

func (s ValidationLevel) String() string {
	switch s {
	case ValidationLevelMAG:
		return "mag"
	case ValidationLevelGene:
		return "gene"
	default:
		return "unknown"
	}
}

// ParseValidationLevel defaults to the MAG table when level is empty.
func ParseValidationLevel(level string) ValidationLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "mag":
		return ValidationLevelMAG
	case "gene":
		return ValidationLevelGene
	default:
		return ValidationLevelUnknown
	}
}

// ParseOptionalBool returns nil for an empty value.
func ParseOptionalBool(v string) (*bool, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ParsePositiveIntFallback returns fallback for anything but a positive integer.
func ParsePositiveIntFallback(v string, fallback int) int {
	num, err := strconv.Atoi(v)
	if err != nil || num <= 0 {
		return fallback
	}
	return num
}
