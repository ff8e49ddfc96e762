// Package errs holds the sentinel error taxonomy shared across the media
// pipeline orchestrator. Every layer wraps these with fmt.Errorf("...: %w")
// and compares with errors.Is/errors.As, the pattern used throughout the
// example codebases surveyed for this project (no third-party error library
// pulls its weight over stdlib wrapping for a taxonomy this small).
package errs

import "errors"

var (
	// ErrHardwareUnavailable means an ISP/VI/VPSS/VENC enable call was refused.
	// Fatal at init; recoverable mid-run by swapping to a Pipeline that does
	// not need the failed subsystem.
	ErrHardwareUnavailable = errors.New("hardware unavailable")

	// ErrResourceExhausted means a pool or queue capacity was exceeded. Transient.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrWouldBlock is returned by a non-blocking acquire when no block is free.
	ErrWouldBlock = errors.New("would block")

	// ErrModelLoad means the NPU (simulated) refused a model. A failed
	// DetectorRegistry swap has already closed the previous detector, so the
	// registry is left Empty rather than reverting to it.
	ErrModelLoad = errors.New("model load failed")

	// ErrResizeFailed means VPSS-CHN1 reconfiguration failed after a detector
	// swap. The detector is unloaded; mode remains serial with no inference.
	ErrResizeFailed = errors.New("resize failed")

	// ErrPeer means a consumer callback raised. Isolated to that consumer's
	// worker; the worker keeps running.
	ErrPeer = errors.New("peer error")

	// ErrCancelled is observed on blocking primitives during shutdown. Never
	// reported upward past the call site that requested cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrMalformed means a control command was bad JSON or an unknown type.
	ErrMalformed = errors.New("malformed command")

	// ErrStartFailed means constructing or starting the replacement Pipeline
	// during a mode/detector swap failed; the manager enters Degraded.
	ErrStartFailed = errors.New("pipeline start failed")

	// ErrAlreadySwapping means a DetectorRegistry operation was attempted
	// from a state that does not allow it (Load when not Empty, Swap when
	// not Active).
	ErrAlreadySwapping = errors.New("detector swap already in progress")

	// ErrNoActivePipeline means an operation required a Pipeline to be
	// running but the manager currently owns none (e.g. after a failed start).
	ErrNoActivePipeline = errors.New("no active pipeline")
)
