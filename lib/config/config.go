// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads client configuration from a YAML file.
//
// The file path is always explicit — the WAVELENGTH_CONFIG environment
// variable or a --config flag. There is no automatic discovery and no
// fallback chain: a deterministic, auditable configuration source with
// no hidden overrides.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that points at the config file.
const EnvVar = "WAVELENGTH_CONFIG"

// Config is the full client configuration.
type Config struct {
	// ServerURL is the base URL of the chat server
	// (e.g., "https://chat.example.com").
	ServerURL string `yaml:"server_url"`

	// Team is the machine name of the team (workspace) the session
	// operates in.
	Team string `yaml:"team"`

	// Username is the account's login name. Required for both
	// credential kinds: token authentication verifies the token by
	// resolving this username.
	Username string `yaml:"username"`

	// Password authenticates via the login endpoint, which issues a
	// short-lived session token. Mutually exclusive with Token.
	Password string `yaml:"password"`

	// Token is a long-lived personal access token used directly as
	// the session token. Mutually exclusive with Password.
	Token string `yaml:"token"`
}

// Load reads and validates the configuration file at path. If path is
// empty, the WAVELENGTH_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Read parses the configuration file at path without validating it.
// Callers that fill in fields from another source (an interactive
// credential prompt) read first, complete the config, then call
// Validate themselves.
func Read(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no path given and %s is not set", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete and internally
// consistent: a parseable server URL, a team, a username, and exactly
// one of password or token.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	parsed, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server_url %q must use http or https", c.ServerURL)
	}
	if c.Team == "" {
		return fmt.Errorf("team is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" && c.Token == "" {
		return fmt.Errorf("one of password or token is required")
	}
	if c.Password != "" && c.Token != "" {
		return fmt.Errorf("password and token are mutually exclusive")
	}
	return nil
}
