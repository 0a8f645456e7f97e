// Package types provides small shared data types for meshgen: byte size
// parsing and formatting, and the outcome of a generation run.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Outcome describes how a generation run ended.
type Outcome string

const (
	// OutcomeSucceeded means the external tool exited with status 0.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the tool exited non-zero or could not be started.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled means the user stopped the run.
	OutcomeCanceled Outcome = "canceled"
)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a size such as "6G", "6GB", "6GiB" or "1024". Every unit
// is binary, so "6GB" is 6 GiB, matching how GPU memory is advertised.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if s[0] == '-' {
		return 0, ErrNegativeSize
	}

	num := strings.TrimRight(s, "kKmMgGtTiIbB ")
	if _, err := strconv.ParseFloat(num, 64); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	unit := strings.ToUpper(strings.TrimSpace(s[len(num):]))
	unit = strings.TrimSuffix(strings.TrimSuffix(unit, "B"), "I")
	if unit != "" {
		if len(unit) != 1 || !strings.Contains("KMGT", unit) {
			return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
		}
		// humanize reads bare K/M/G as SI units; the iB form is binary.
		unit += "iB"
	}

	n, err := humanize.ParseBytes(num + unit)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// FormatSize converts a size in bytes to a human-readable string using
// binary units, e.g. FormatSize(8*GiB) returns "8.0 GiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
