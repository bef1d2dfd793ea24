// Package rng guards the source of the enclave's secret entropy. The gate
// confirms the kernel's active hardware RNG is the Nitro Security Module
// device before any key material is generated.
package rng

import (
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultSourcePath is where the kernel reports the active hardware RNG.
	DefaultSourcePath = "/sys/class/misc/hw_random/rng_current"
	// NitroSourceName is the attested Nitro hardware RNG identifier.
	NitroSourceName = "nsm-hwrng"
)

// GateError is a typed error for RNG gate failures.
type GateError string

func (e GateError) Error() string { return string(e) }

// ErrWrongSource is returned when the active hardware RNG is not the expected device.
const ErrWrongSource = GateError("active hardware RNG is not the attested source")

// Gate checks the platform's current hardware RNG source.
type Gate struct {
	// SourcePath overrides DefaultSourcePath; empty uses the default.
	SourcePath string
	// Expected overrides NitroSourceName; empty uses the default.
	Expected string
}

// Check reads the active RNG source identifier and compares it to the
// expected name. Any mismatch, including an unreadable source file, is fatal
// to the ceremony.
func (g Gate) Check() error {
	path := g.SourcePath
	if path == "" {
		path = DefaultSourcePath
	}
	expected := g.Expected
	if expected == "" {
		expected = NitroSourceName
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read RNG source from %s: %w", path, err)
	}
	current := strings.TrimSpace(string(raw))
	if current != expected {
		return fmt.Errorf("%w: got %q, expected %q", ErrWrongSource, current, expected)
	}
	return nil
}
