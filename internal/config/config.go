// Copyright (c) 2021 ubirch GmbH
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

// Package config loads and validates the suitd service configuration,
// either from environment variables or from a JSON file, following the
// same dual-source convention the rest of the ambient stack uses.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTCPAddr = ":8080"

	defaultTLSCertFile = "cert.pem"
	defaultTLSKeyFile  = "key.pem"

	defaultKeyServerTimeout = 10 * time.Second

	defaultDbMaxOpenConns    = 10
	defaultDbMaxIdleConns    = 10
	defaultDbConnMaxLifetime = 10
	defaultDbConnMaxIdleTime = 1
)

// DatabaseParams mirrors the pool-tuning knobs exposed by the anti-
// rollback sequence store.
type DatabaseParams struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Config holds the runtime configuration for cmd/suitd.
type Config struct {
	PostgresDSN       string `json:"postgresDSN" envconfig:"POSTGRES_DSN"`
	DbMaxOpenConns    string `json:"dbMaxOpenConns" envconfig:"DB_MAX_OPEN_CONNS"`
	DbMaxIdleConns    string `json:"dbMaxIdleConns" envconfig:"DB_MAX_IDLE_CONNS"`
	DbConnMaxLifetime string `json:"dbConnMaxLifetime" envconfig:"DB_CONN_MAX_LIFETIME"`
	DbConnMaxIdleTime string `json:"dbConnMaxIdleTime" envconfig:"DB_CONN_MAX_IDLE_TIME"`

	// KeyServerURL is queried for a device's current ECDSA public key
	// when it isn't already cached. See internal/keycache.
	KeyServerURL string `json:"keyServerURL" envconfig:"KEY_SERVER_URL"`
	// KeyServerTimeoutSeconds bounds a single key-server lookup.
	KeyServerTimeoutSeconds string `json:"keyServerTimeoutSeconds" envconfig:"KEY_SERVER_TIMEOUT_SECONDS"`

	TCPAddr string `json:"TCPAddr" envconfig:"TCP_ADDR"`
	TLS     bool   `json:"TLS" envconfig:"TLS"`
	TLSCert string `json:"TLSCertFile" envconfig:"TLS_CERT_FILE"`
	TLSKey  string `json:"TLSKeyFile" envconfig:"TLS_KEY_FILE"`

	Debug         bool `json:"debug" envconfig:"DEBUG"`
	LogTextFormat bool `json:"logTextFormat" envconfig:"LOG_TEXT_FORMAT"`

	// SigningKeyFile, if set, points at a PEM-encoded ECDSA P-256 private
	// key suitd uses to wrap raw manifests submitted for issuing. Optional:
	// a deployment that only ever verifies incoming envelopes can leave it
	// unset.
	SigningKeyFile string `json:"signingKeyFile" envconfig:"SIGNING_KEY_FILE"`

	configDir       string
	dbParams        DatabaseParams
	keyServerTimeout time.Duration
}

// Load populates c from the UBIRCH_*-prefixed environment variables if
// UBIRCH_POSTGRES_DSN is set, or otherwise from a JSON file named filename
// inside configDir. No other environment variable selects the environment
// source.
func (c *Config) Load(configDir string, filename string) error {
	c.configDir = configDir

	var err error
	if os.Getenv("UBIRCH_POSTGRES_DSN") != "" {
		err = c.loadEnv()
	} else {
		err = c.loadFile(filename)
	}
	if err != nil {
		return err
	}

	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if c.LogTextFormat {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000 -0700"})
	}

	if err = c.checkMandatory(); err != nil {
		return err
	}

	c.setDefaultTLS()
	c.setDefaultKeyServerTimeout()

	return c.setDbParams()
}

func (c *Config) loadEnv() error {
	log.Infof("loading configuration from environment variables")
	return envconfig.Process("ubirch", c)
}

func (c *Config) loadFile(filename string) error {
	configFile := filepath.Join(c.configDir, filename)
	log.Infof("loading configuration from file: %s", configFile)

	fileHandle, err := os.Open(configFile)
	if err != nil {
		return err
	}
	defer fileHandle.Close()

	return json.NewDecoder(fileHandle).Decode(c)
}

func (c *Config) checkMandatory() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("missing 'postgresDSN' in configuration")
	}
	if c.KeyServerURL == "" {
		return fmt.Errorf("missing 'keyServerURL' in configuration")
	}
	return nil
}

func (c *Config) setDefaultTLS() {
	if c.TCPAddr == "" {
		c.TCPAddr = defaultTCPAddr
	}
	log.Debugf("TCP address: %s", c.TCPAddr)

	if c.TLS {
		log.Debug("TLS enabled")

		if c.TLSCert == "" {
			c.TLSCert = defaultTLSCertFile
		}
		c.TLSCert = filepath.Join(c.configDir, c.TLSCert)

		if c.TLSKey == "" {
			c.TLSKey = defaultTLSKeyFile
		}
		c.TLSKey = filepath.Join(c.configDir, c.TLSKey)
	}
}

func (c *Config) setDefaultKeyServerTimeout() {
	if c.KeyServerTimeoutSeconds == "" {
		c.keyServerTimeout = defaultKeyServerTimeout
		return
	}
	seconds, err := strconv.Atoi(c.KeyServerTimeoutSeconds)
	if err != nil {
		c.keyServerTimeout = defaultKeyServerTimeout
		return
	}
	c.keyServerTimeout = time.Duration(seconds) * time.Second
}

func (c *Config) setDbParams() error {
	if c.DbMaxOpenConns == "" {
		c.dbParams.MaxOpenConns = defaultDbMaxOpenConns
	} else {
		i, err := strconv.Atoi(c.DbMaxOpenConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxOpenConns: %v", err)
		}
		c.dbParams.MaxOpenConns = i
	}

	if c.DbMaxIdleConns == "" {
		c.dbParams.MaxIdleConns = defaultDbMaxIdleConns
	} else {
		i, err := strconv.Atoi(c.DbMaxIdleConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxIdleConns: %v", err)
		}
		c.dbParams.MaxIdleConns = i
	}

	if c.DbConnMaxLifetime == "" {
		c.dbParams.ConnMaxLifetime = defaultDbConnMaxLifetime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxLifetime: %v", err)
		}
		c.dbParams.ConnMaxLifetime = time.Duration(i) * time.Minute
	}

	if c.DbConnMaxIdleTime == "" {
		c.dbParams.ConnMaxIdleTime = defaultDbConnMaxIdleTime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxIdleTime: %v", err)
		}
		c.dbParams.ConnMaxIdleTime = time.Duration(i) * time.Minute
	}

	return nil
}

// DbParams returns the resolved database connection-pool parameters.
func (c *Config) DbParams() DatabaseParams { return c.dbParams }

// KeyServerTimeout returns the resolved per-request key-server timeout.
func (c *Config) KeyServerTimeout() time.Duration { return c.keyServerTimeout }
