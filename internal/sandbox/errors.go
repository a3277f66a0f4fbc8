// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package sandbox

import (
	"github.com/samber/oops"
)

// Error codes for sandboxed execution failures.
const (
	CodeEvaluation        = "EVALUATION"
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeResourceExceeded  = "RESOURCE_EXCEEDED"
	CodeCanceled          = "CANCELED"
	CodeClosed            = "CLOSED"
)

// Phases of a sandboxed call, used in error context and metrics.
const (
	PhaseExecute = "execute"
	PhaseRender  = "render"
)

// Limit names reported with CodeResourceExceeded.
const (
	LimitTimeout = "timeout"
	LimitStack   = "stack"
	LimitString  = "string_bytes"
	LimitNodes   = "nodes"
	LimitMarkup  = "markup_bytes"
	LimitDepth   = "depth"
	LimitMemory  = "memory_bytes"
)

// ErrEvaluation creates an error for untrusted code that raised or aborted.
func ErrEvaluation(plugin, phase string, cause error) error {
	return oops.In("sandbox").
		Code(CodeEvaluation).
		With("plugin", plugin).
		With("phase", phase).
		Wrapf(cause, "plugin %s failed during %s", plugin, phase)
}

// ErrContractViolation creates an error for an export or render result that
// does not satisfy the component-description contract.
func ErrContractViolation(plugin, reason string) error {
	return oops.In("sandbox").
		Code(CodeContractViolation).
		With("plugin", plugin).
		With("reason", reason).
		Errorf("plugin %s violates the component contract: %s", plugin, reason)
}

// ErrResourceExceeded creates an error for an evaluation that hit a ceiling.
func ErrResourceExceeded(plugin, phase, limit string) error {
	return oops.In("sandbox").
		Code(CodeResourceExceeded).
		With("plugin", plugin).
		With("phase", phase).
		With("limit", limit).
		Errorf("plugin %s exceeded the %s limit during %s", plugin, limit, phase)
}

// ErrCanceled creates an error for an evaluation abandoned by its caller.
func ErrCanceled(plugin, phase string, cause error) error {
	return oops.In("sandbox").
		Code(CodeCanceled).
		With("plugin", plugin).
		With("phase", phase).
		Wrapf(cause, "plugin %s canceled during %s", plugin, phase)
}

// ErrClosed creates an error for use of a closed entry point.
func ErrClosed(plugin string) error {
	return oops.In("sandbox").
		Code(CodeClosed).
		With("plugin", plugin).
		New("entry point is closed")
}
