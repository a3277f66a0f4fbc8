// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package errutil holds small helpers for logging and asserting oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts the message, code, domain, hint and context.
// For standard errors, it logs the error string. Extra attrs are appended
// to the record as-is.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields, attrs...)

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		fields = append(fields, "error", err)
		logger.Error(msg, fields...)
		return
	}

	fields = append(fields, "error", oopsErr.Error())
	if code := oopsErr.Code(); code != nil && code != "" {
		fields = append(fields, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		fields = append(fields, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		fields = append(fields, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		fields = append(fields, "context", ctx)
	}
	logger.Error(msg, fields...)
}

// Code returns the oops code carried by err, or "" if there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
