// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package pipeline

import (
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

// CodeInternal is reported for errors without a code.
const CodeInternal = "INTERNAL"

// PublicMessage is the only failure text shown to page visitors.
const PublicMessage = "An error occurred while fetching the module"

// Kind returns the error code of err, or CodeInternal if it has none.
func Kind(err error) string {
	if code := errutil.Code(err); code != "" {
		return code
	}
	return CodeInternal
}
