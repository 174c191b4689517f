// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package config loads the service configuration from a YAML file.
// The file is read once at startup and the resulting struct is passed
// down explicitly; there is no process-wide configuration singleton.
package config

import (
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxBodyBytes = 40 * 1024 * 1024
	defaultResumableTTL = 24 * 60 * 60
	defaultJWTMaxAge    = 60 * 60
	defaultIdleTimeout  = 60
)

// Config holds the full service configuration.
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	LogMode  string `mapstructure:"log_mode"`

	// JWTSecrets maps project numbers to their HMAC signing secrets.
	JWTSecrets       map[string]string `mapstructure:"jwt_secrets"`
	JWTMaxAgeSeconds int               `mapstructure:"jwt_max_age_seconds"`

	// UploadsRoot maps project numbers to their import directories.
	UploadsRoot    map[string]string `mapstructure:"uploads_root"`
	SNSUploadsRoot string            `mapstructure:"sns_uploads_root"`
	ExportRoot     map[string]string `mapstructure:"export_root"`

	MaxBodyBytes        int64 `mapstructure:"max_body_bytes"`
	MaxStreamBytes      int64 `mapstructure:"max_stream_bytes"`
	ResumableTTLSeconds int   `mapstructure:"resumable_ttl_seconds"`
	IdleTimeoutSeconds  int   `mapstructure:"idle_timeout_seconds"`

	// SetOwner controls whether committed files are chowned to the
	// authenticated user. Requires the users to exist in the OS user
	// database, so test rigs normally switch it off.
	SetOwner bool `mapstructure:"set_owner"`

	GPGBinary   string `mapstructure:"gpg_binary"`
	GPGHomedir  string `mapstructure:"gpg_homedir"`
	GPGKeyring  string `mapstructure:"gpg_keyring"`
	GPGSecring  string `mapstructure:"gpg_secring"`
	PublicKeyID string `mapstructure:"public_key_id"`
}

// Read parses the YAML file at path into a Config.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: reading file")
	}
	return Parse(raw)
}

// Parse decodes YAML bytes into a Config and applies defaults.
func Parse(raw []byte) (*Config, error) {
	m := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "config: parsing yaml")
	}

	c := &Config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "config: decoding")
	}
	c.applyDefaults()

	if len(c.JWTSecrets) == 0 {
		return nil, errors.New("config: no jwt_secrets configured")
	}
	if len(c.UploadsRoot) == 0 {
		return nil, errors.New("config: no uploads_root configured")
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3003
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.ResumableTTLSeconds == 0 {
		c.ResumableTTLSeconds = defaultResumableTTL
	}
	if c.JWTMaxAgeSeconds == 0 {
		c.JWTMaxAgeSeconds = defaultJWTMaxAge
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = defaultIdleTimeout
	}
}

// JWTMaxAge returns the maximum accepted token lifetime.
func (c *Config) JWTMaxAge() time.Duration {
	return time.Duration(c.JWTMaxAgeSeconds) * time.Second
}

// ResumableTTL returns the idle time after which resumables are reaped.
func (c *Config) ResumableTTL() time.Duration {
	return time.Duration(c.ResumableTTLSeconds) * time.Second
}

// IdleTimeout returns the per-read deadline applied to request bodies.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}
