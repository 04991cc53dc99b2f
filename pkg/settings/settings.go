/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// Package settings loads the per-repository npmup configuration: which
// workflows gate a merge, and how patiently to wait for them.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/goccy/go-yaml"
	"github.com/sethvargo/go-envconfig"
)

// FileName is the settings file looked up in the target path.
const FileName = ".npmup.yaml"

const (
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 30 * time.Minute
)

// ConfigError is a missing, unreadable or invalid settings source.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Settings are the resolved run tunables.
type Settings struct {
	// Workflows is the Required Workflow Set: every name listed must
	// report success before a pull request may be merged.
	Workflows []string

	// PollInterval is the delay between check-run polls.
	PollInterval time.Duration

	// PollTimeout bounds how long a run waits for workflows to settle.
	PollTimeout time.Duration
}

// fileSettings is the YAML shape of .npmup.yaml. Durations are strings
// ("10s", "30m") so the file reads the way the flags do.
type fileSettings struct {
	Workflows    []string `yaml:"workflows"`
	PollInterval string   `yaml:"poll_interval"`
	PollTimeout  string   `yaml:"poll_timeout"`
}

type envOverrides struct {
	Workflows    []string      `env:"NPMUP_WORKFLOWS"`
	PollInterval time.Duration `env:"NPMUP_POLL_INTERVAL"`
	PollTimeout  time.Duration `env:"NPMUP_POLL_TIMEOUT"`
}

// Load reads .npmup.yaml from dir, then applies NPMUP_* environment
// overrides. A missing file is not an error; the zero configuration is
// caught later by Validate when a merge is actually requested.
func Load(ctx context.Context, dir string) (*Settings, error) {
	s := &Settings{
		PollInterval: defaultPollInterval,
		PollTimeout:  defaultPollTimeout,
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		clog.FromContext(ctx).Debugf("No settings file at %s", path)
	case err != nil:
		return nil, &ConfigError{Path: path, Err: err}
	default:
		var file fileSettings
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		s.Workflows = file.Workflows
		if file.PollInterval != "" {
			d, err := time.ParseDuration(file.PollInterval)
			if err != nil {
				return nil, &ConfigError{Path: path, Err: fmt.Errorf("poll_interval: %w", err)}
			}
			s.PollInterval = d
		}
		if file.PollTimeout != "" {
			d, err := time.ParseDuration(file.PollTimeout)
			if err != nil {
				return nil, &ConfigError{Path: path, Err: fmt.Errorf("poll_timeout: %w", err)}
			}
			s.PollTimeout = d
		}
	}

	var env envOverrides
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if len(env.Workflows) > 0 {
		s.Workflows = env.Workflows
	}
	if env.PollInterval > 0 {
		s.PollInterval = env.PollInterval
	}
	if env.PollTimeout > 0 {
		s.PollTimeout = env.PollTimeout
	}

	return s, nil
}

// Validate checks the settings are sufficient to gate a merge. An
// empty Required Workflow Set is rejected: with nothing to gate on,
// "merge whatever was committed" is never what anyone meant.
func (s *Settings) Validate() error {
	if len(s.Workflows) == 0 {
		return &ConfigError{Err: errors.New("required workflow set is empty")}
	}
	return nil
}
