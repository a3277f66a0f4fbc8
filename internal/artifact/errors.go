// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package artifact

import (
	"github.com/samber/oops"
)

// Error codes for artifact resolution failures.
const (
	CodeTransport   = "TRANSPORT"
	CodeUpstream    = "UPSTREAM"
	CodeInvalidName = "INVALID_NAME"
	CodeInvalidEnv  = "INVALID_ENV"
	CodeCanceled    = "CANCELED"
	CodeClosed      = "CLOSED"
)

// ErrTransport creates an error for a request that could not complete.
func ErrTransport(name string, env Env, url string, cause error) error {
	return oops.In("artifact").
		Code(CodeTransport).
		With("plugin", name).
		With("payload", string(env)).
		With("url", url).
		Wrapf(cause, "fetch %s payload", env)
}

// ErrUpstream creates an error for a non-success answer from the plugin source.
func ErrUpstream(name string, env Env, url string, status int) error {
	return oops.In("artifact").
		Code(CodeUpstream).
		With("plugin", name).
		With("payload", string(env)).
		With("url", url).
		With("status", status).
		Errorf("plugin source returned status %d for %s payload", status, env)
}

// ErrPayloadTooLarge creates an error for a payload above the configured size.
func ErrPayloadTooLarge(name string, env Env, url string, limit int64) error {
	return oops.In("artifact").
		Code(CodeUpstream).
		With("plugin", name).
		With("payload", string(env)).
		With("url", url).
		With("limit_bytes", limit).
		Errorf("%s payload exceeds %d bytes", env, limit)
}

// ErrInvalidName creates an error for a plugin name that cannot be fetched.
func ErrInvalidName(name, reason string) error {
	return oops.In("artifact").
		Code(CodeInvalidName).
		With("plugin", name).
		Errorf("invalid plugin name %q: %s", name, reason)
}

// ErrInvalidEnv creates an error for an unknown payload kind.
func ErrInvalidEnv(env string) error {
	return oops.In("artifact").
		Code(CodeInvalidEnv).
		With("payload", env).
		Errorf("unknown payload %q: must be server or client", env)
}

// ErrCanceled creates an error for a caller that stopped waiting.
func ErrCanceled(name string, cause error) error {
	return oops.In("artifact").
		Code(CodeCanceled).
		With("plugin", name).
		Wrapf(cause, "resolve %s", name)
}

// ErrClosed creates an error for use of a closed cache.
func ErrClosed(name string) error {
	return oops.In("artifact").
		Code(CodeClosed).
		With("plugin", name).
		New("artifact cache is closed")
}
