// Package errs declares the five sentinel error kinds produced by the
// core: exported values, never types, discriminated with errors.Is
// after being wrapped with fmt.Errorf("...: %w", ...) at the call site.
package errs

import "errors"

var (
	// ErrValidation marks a malformed selector, unknown discriminator, or
	// missing required JSON field. Logged at ERROR; callers recover locally
	// by returning a neutral value.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown device id, cue number, or timeline id.
	// Logged at WARN on read paths; on the playback hot path it causes a
	// silent per-parameter skip.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks an attempted structural mutation while
	// the tick is running, or a duplicate id. Logged at ERROR; the
	// mutation is refused.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrOutOfGamut marks a color gamut-solve that returned a clamped,
	// closest-feasible solution. Logged at DEBUG or WARN once per call.
	ErrOutOfGamut = errors.New("color out of gamut")

	// ErrVersionSkew marks a loaded show document whose version differs
	// from the library version. Logged at WARN; load proceeds best-effort.
	ErrVersionSkew = errors.New("version skew")
)
