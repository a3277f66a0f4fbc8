// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, SchemaID, schema["$id"])
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "source", "sandbox", "site", "listing", "rate_limit"} {
		assert.Contains(t, props, key)
	}

	server := props["server"].(map[string]any)["properties"].(map[string]any)
	timeout := server["read_header_timeout"].(map[string]any)
	assert.Equal(t, "string", timeout["type"])
	assert.Equal(t, durationPattern, timeout["pattern"])
}

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty document", "", false},
		{"comment only", "# nothing\n", false},
		{"partial config", "server:\n  addr: 127.0.0.1:8080\n", false},
		{"durations", "sandbox:\n  timeout: 1500ms\nrate_limit:\n  window: 1h30m\n", false},
		{"grants", "sandbox:\n  grants:\n    - plugin: hello\n      allow: [\"ui.*\"]\n", false},
		{"integer sizes", "source:\n  max_payload_bytes: 1024\n", false},
		{"unknown top-level key", "servers:\n  addr: x\n", true},
		{"unknown nested key", "server:\n  adr: x\n", true},
		{"bad duration", "sandbox:\n  timeout: soon\n", true},
		{"wrong type", "rate_limit:\n  burst: lots\n", true},
		{"bad enum", "server:\n  log_format: xml\n", true},
		{"not an object", "- a\n- b\n", true},
		{"invalid yaml", "server: [\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, CodeInvalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, FormatSchemaError(nil))

	err := ValidateSchema([]byte("server:\n  adr: x\n"))
	require.Error(t, err)
	assert.NotContains(t, FormatSchemaError(err), "schema validation failed: ")
}

func TestConvertToJSONTypes(t *testing.T) {
	in := map[string]any{
		"list":   []any{1, "two", map[any]any{3: true}},
		"nested": map[string]any{"f": 1.5},
	}
	out := convertToJSONTypes(in).(map[string]any)

	list := out["list"].([]any)
	assert.Equal(t, 1, list[0])
	assert.Equal(t, map[string]any{"3": true}, list[2])
	assert.Equal(t, map[string]any{"f": 1.5}, out["nested"])
}
