// Package types provides the error kinds shared across the engine.
package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientHistory indicates an indicator window is not yet
	// satisfied. Non-fatal: the signal for that step is suppressed.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInvalidBar indicates malformed or non-monotonic input data.
	// Fatal for the run.
	ErrInvalidBar = errors.New("invalid bar")

	// ErrInsufficientCash indicates a sized target exceeded available
	// capital. Non-fatal: the size is clipped and flagged.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrSingularCovariance indicates a covariance matrix that cannot be
	// solved. Fatal for that optimization call.
	ErrSingularCovariance = errors.New("singular covariance matrix")

	// ErrNotConverged indicates an iterative solve ran out of iterations.
	// Surfaced alongside the last-best weights, never silently accepted.
	ErrNotConverged = errors.New("optimization did not converge")
)

// InvalidBarError wraps ErrInvalidBar with enough context to diagnose the
// offending bar without re-running.
func InvalidBarError(asset string, ts time.Time, reason string) error {
	return fmt.Errorf("%w: asset %s at %s: %s", ErrInvalidBar, asset, ts.UTC().Format(time.RFC3339), reason)
}
