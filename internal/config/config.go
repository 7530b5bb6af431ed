// Package config loads the contentsql configuration from defaults, a YAML
// file, CONTENTSQL_ environment variables and command line flags, and
// validates it.
package config

import (
	"time"

	"contentsql/internal/naming"
	"contentsql/internal/schemafilter"
)

// Output formats for compiled queries.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Compiler      CompilerConfig      `mapstructure:"compiler"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	RequestFile   string              `mapstructure:"request_file"`
	Output        string              `mapstructure:"output"`
	Descriptor    bool                `mapstructure:"descriptor"`
	Log           LoggingConfig       `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// CompilerConfig tunes query compilation.
type CompilerConfig struct {
	// MaxCompoundSelect caps the SELECTs joined by one existence probe.
	MaxCompoundSelect int  `mapstructure:"max_compound_select"`
	CheckExistence    bool `mapstructure:"check_existence"`
	MaxPageSize       int  `mapstructure:"max_page_size"`
}

// SchemaConfig selects where the class graph comes from: a YAML schema file
// or introspection of the configured database.
type SchemaConfig struct {
	File       string              `mapstructure:"file"`
	Introspect bool                `mapstructure:"introspect"`
	Name       string              `mapstructure:"name"`
	Filters    schemafilter.Config `mapstructure:"filters"`
	Naming     naming.Config       `mapstructure:"naming"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for the database connection.
type DatabaseTLSConfig struct {
	Mode       string `mapstructure:"mode"` // off, skip-verify, verify-ca, verify-full
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters. The database is only
// needed for introspection and existence checks.
type DatabaseConfig struct {
	ConnectionString string            `mapstructure:"dsn"`
	DSNFile          string            `mapstructure:"dsn_file"`
	Host             string            `mapstructure:"host"`
	Port             int               `mapstructure:"port"`
	User             string            `mapstructure:"user"`
	Password         string            `mapstructure:"password"`
	PasswordFile     string            `mapstructure:"password_file"`
	PasswordPrompt   bool              `mapstructure:"password_prompt"`
	Database         string            `mapstructure:"database"`
	TLS              DatabaseTLSConfig `mapstructure:"tls"`
	Pool             PoolConfig        `mapstructure:"pool"`
}

// Configured reports whether enough is set to open a connection.
func (d *DatabaseConfig) Configured() bool {
	return d.ConnectionString != "" || d.Host != ""
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string  `mapstructure:"service_name"`
	ServiceVersion   string  `mapstructure:"service_version"`
	MetricsEnabled   bool    `mapstructure:"metrics_enabled"`
	TracingEnabled   bool    `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`

	// Global OTLP settings, shared by traces and logs.
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides.
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // grpc, http/protobuf
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // none, gzip
}

// TracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) TracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// LogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) LogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays non-empty signal settings over the global ones.
// Insecure always comes from the override: a bool cannot tell unset from
// false.
func mergeOTLPConfigs(base, override OTLPConfig) OTLPConfig {
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	return result
}
