//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

const malgoAvailable = false

// newMalgoSource returns an error when built without cgo.
func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: malgo backend requires cgo", ErrDeviceUnavailable)
}

// newMalgoOutput returns an error when built without cgo.
func newMalgoOutput(cfg Config, logger *slog.Logger) (Output, error) {
	return nil, fmt.Errorf("%w: malgo backend requires cgo", ErrDeviceUnavailable)
}
