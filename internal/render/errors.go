// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package render

import (
	"github.com/samber/oops"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

func errContract(format string, args ...any) error {
	return oops.In("render").
		Code(sandbox.CodeContractViolation).
		Errorf(format, args...)
}

func errLimit(limit string) error {
	return oops.In("render").
		Code(sandbox.CodeResourceExceeded).
		With("limit", limit).
		Errorf("markup exceeds the %s limit", limit)
}
