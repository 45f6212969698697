// Package config defines the YAML configuration root, decoded with
// ghodss/yaml the same way the teacher's cmd/dex/config.go does, and a
// declarative Validate() that lists checks in a table rather than a
// chain of if-statements.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level config file format.
type Config struct {
	Storage   Storage   `json:"storage"`
	GRPC      GRPC      `json:"grpc"`
	Telemetry Telemetry `json:"telemetry"`
	Logger    Logger    `json:"logger"`

	// MasterSecret is the process-wide key-at-rest secret. Supports
	// "env:VAR_NAME" and "file:/path" indirection so the literal
	// secret need not live in the config file itself.
	MasterSecret string `json:"masterSecret"`

	Activation Activation `json:"activation"`
	Callbacks  Callbacks  `json:"callbacks"`
}

// Storage selects the persistence driver: "memory" or "postgres".
type Storage struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// GRPC configures the gRPC listener, which serves health checks and
// reflection; the activation RPC methods are served on the Telemetry
// listener.
type GRPC struct {
	Addr    string `json:"addr"`
	TLSCert string `json:"tlsCert"`
	TLSKey  string `json:"tlsKey"`
}

// Telemetry configures the HTTP listener serving metrics, health
// checks and the JSON RPC routes.
type Telemetry struct {
	Addr string `json:"addr"`
}

// Logger configures the slog handler.
type Logger struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Activation holds the generation-iteration bounds and lifecycle
// defaults referenced throughout §4.2-4.6.
type Activation struct {
	ActivationIDIterations   int           `json:"activationIdIterations"`
	ActivationCodeIterations int           `json:"activationCodeIterations"`
	TokenIDIterations        int           `json:"tokenIdIterations"`
	RecoveryCodeIterations   int           `json:"recoveryCodeIterations"`
	DefaultMaxFailedAttempts uint64        `json:"defaultMaxFailedAttempts"`
	RecoveryMaxFailedAttempts uint64       `json:"recoveryMaxFailedAttempts"`
	SignatureValidationLookahead int       `json:"signatureValidationLookahead"`
	ActivationValidityBeforeActive time.Duration `json:"activationValidityBeforeActive"`
	RecoveryEnabled bool `json:"recoveryEnabled"`
}

// Callbacks configures outbound notification delivery.
type Callbacks struct {
	HTTPTimeout time.Duration `json:"httpTimeout"`
	Proxy       *Proxy        `json:"proxy"`
	QueueSize   int           `json:"queueSize"`
	Workers     int           `json:"workers"`
}

// Proxy is an optional HTTP proxy for callback delivery.
type Proxy struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Default returns a Config with the same fallbacks the teacher applies
// via its own Config defaulting pass in cmd/dex/serve.go, before
// Validate is called.
func Default() Config {
	return Config{
		Activation: Activation{
			ActivationIDIterations:          10,
			ActivationCodeIterations:        10,
			TokenIDIterations:               10,
			RecoveryCodeIterations:          10,
			DefaultMaxFailedAttempts:        5,
			RecoveryMaxFailedAttempts:       10,
			SignatureValidationLookahead:    20,
			ActivationValidityBeforeActive:  2 * time.Hour,
			RecoveryEnabled:                 true,
		},
		Callbacks: Callbacks{
			HTTPTimeout: 5 * time.Second,
			QueueSize:   256,
			Workers:     4,
		},
		Logger: Logger{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration for internal consistency, in the
// same declarative checks-table style as the teacher's Config.Validate.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Storage.Driver == "", "no storage driver specified in config file"},
		{c.Storage.Driver == "postgres" && c.Storage.DSN == "", "postgres storage requires a dsn"},
		{c.Storage.Driver != "memory" && c.Storage.Driver != "postgres", "storage driver must be memory or postgres"},
		{c.GRPC.Addr == "", "must supply a grpc address to listen on"},
		{(c.GRPC.TLSCert == "") != (c.GRPC.TLSKey == ""), "must specify both a grpc TLS cert and key, or neither"},
		{c.MasterSecret == "", "no masterSecret specified in config file"},
		{c.Activation.DefaultMaxFailedAttempts == 0, "activation.defaultMaxFailedAttempts must be positive"},
		{c.Activation.ActivationValidityBeforeActive <= 0, "activation.activationValidityBeforeActive must be positive"},
		{c.Activation.SignatureValidationLookahead < 0, "activation.signatureValidationLookahead must not be negative"},
		{c.Callbacks.Workers <= 0, "callbacks.workers must be positive"},
		{c.Callbacks.QueueSize <= 0, "callbacks.queueSize must be positive"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	return nil
}
