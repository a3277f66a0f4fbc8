// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/webcrumbs/crumbhost/internal/xdg"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: CRUMBHOST_SOURCE__BASE_URL sets source.base_url.
const EnvPrefix = "CRUMBHOST_"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is an explicit config file. It must exist when set. When empty,
	// the XDG config file is used if present.
	Path string

	// Flags contributes flags the user changed. Unchanged flags never
	// override lower layers.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to config keys, e.g. "addr" to "server.addr".
	// Flags without an entry are ignored.
	FlagKeys map[string]string
}

// Load layers defaults, the config file, CRUMBHOST_* environment variables
// and changed flags, in that order, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structProvider{v: Default()}, kyaml.Parser()); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to load defaults")
	}

	path, err := resolvePath(opts.Path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "failed to read config file")
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.In("config").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, oops.In("config").Code(CodeInvalid).With("path", path).Wrapf(err, "failed to load config file")
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to load environment")
	}

	if opts.Flags != nil {
		flags := opts.Flags
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "failed to load flags")
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, oops.In("config").Code(CodeInvalid).Wrapf(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath returns the file to load, or "" when there is none.
func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.In("config").With("path", explicit).Wrapf(err, "config file not found")
		}
		return explicit, nil
	}

	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file.
		return "", nil //nolint:nilerr // the default file is optional
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", oops.In("config").With("path", path).Wrapf(err, "failed to stat config file")
	}
	return path, nil
}

// envKey maps CRUMBHOST_SOURCE__BASE_URL to source.base_url.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

// structProvider feeds a struct to koanf as a YAML document.
type structProvider struct {
	v any
}

func (p structProvider) ReadBytes() ([]byte, error) {
	data, err := yaml.Marshal(p.v)
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to marshal defaults")
	}
	return data, nil
}

func (p structProvider) Read() (map[string]any, error) {
	return nil, oops.In("config").Errorf("structProvider does not support Read")
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return oops.In("config").With("path", path).Errorf("config file already exists")
		}
	}

	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := Default().YAML()
	if err != nil {
		return err
	}
	header := []byte("# yaml-language-server: $schema=" + SchemaID + "\n")
	if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "failed to write config file")
	}
	return nil
}
