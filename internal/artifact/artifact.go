// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package artifact fetches plugin payloads from the remote plugin source and
// keeps them in a process-lifetime cache.
package artifact

import (
	"regexp"
	"time"
)

// Env selects one of the two payloads of a plugin.
type Env string

// Payload kinds served by the plugin source.
const (
	EnvServer Env = "server"
	EnvClient Env = "client"
)

// ParseEnv converts a path segment into an Env.
func ParseEnv(s string) (Env, error) {
	switch Env(s) {
	case EnvServer, EnvClient:
		return Env(s), nil
	default:
		return "", ErrInvalidEnv(s)
	}
}

// Artifact is the fetched representation of one plugin's payloads.
// It is never modified after it has been stored in a Cache.
type Artifact struct {
	Name       string
	ServerCode string
	ClientCode string
	FetchedAt  time.Time
}

// Payload returns the payload text for env.
func (a *Artifact) Payload(env Env) (string, error) {
	switch env {
	case EnvServer:
		return a.ServerCode, nil
	case EnvClient:
		return a.ClientCode, nil
	default:
		return "", ErrInvalidEnv(string(env))
	}
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern accepts lowercase identifiers with digits, dots, underscores and
// hyphens, starting and ending with an alphanumeric character.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// ValidateName checks a plugin name before it is interpolated into a fetch
// path. Empty names are always rejected; strict additionally enforces the
// identifier pattern and length.
func ValidateName(name string, strict bool) error {
	if name == "" {
		return ErrInvalidName(name, "name is empty")
	}
	if !strict {
		return nil
	}
	if len(name) > maxNameLength {
		return ErrInvalidName(name, "name is too long")
	}
	if !namePattern.MatchString(name) {
		return ErrInvalidName(name, "name must match "+namePattern.String())
	}
	return nil
}
