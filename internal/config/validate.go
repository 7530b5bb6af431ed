package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"contentsql/internal/schemafilter"
)

// ValidationError is a fatal configuration problem with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning is a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns the combined error messages.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	switch c.Output {
	case OutputText, OutputJSON:
	default:
		result.fail("output", fmt.Sprintf("invalid output format %q", c.Output), "valid values are: text, json")
	}
	if strings.TrimSpace(c.RequestFile) == "" {
		result.fail("request_file", "no content request given", "pass a request file as argument or set request_file")
	}

	c.Compiler.validate(result)
	c.Schema.validate(result)

	needsDatabase := c.Schema.Introspect || c.Compiler.CheckExistence
	if needsDatabase {
		if !c.Database.Configured() {
			result.fail("database", "no database configured",
				"schema.introspect and compiler.check_existence need database.dsn or database.host")
		} else {
			c.Database.validate(result)
		}
	} else if c.Database.Configured() {
		result.warn("database", "database is configured but unused",
			"enable schema.introspect or compiler.check_existence to use it")
	}

	c.Log.validate(result)
	c.Observability.validate(result)
	return result
}

func (c *CompilerConfig) validate(result *ValidationResult) {
	if c.MaxCompoundSelect < 2 {
		result.fail("compiler.max_compound_select",
			fmt.Sprintf("max_compound_select %d must be at least 2", c.MaxCompoundSelect), "")
	}
	if c.MaxPageSize < 1 {
		result.fail("compiler.max_page_size",
			fmt.Sprintf("max_page_size %d must be positive", c.MaxPageSize), "")
	}
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	hasFile := strings.TrimSpace(s.File) != ""
	switch {
	case hasFile && s.Introspect:
		result.fail("schema", "schema.file and schema.introspect are mutually exclusive", "set one of them")
	case !hasFile && !s.Introspect:
		result.fail("schema", "no schema source configured", "set schema.file or enable schema.introspect")
	}
	if hasFile && !s.Filters.IsEmpty() && !isDefaultFilter(s.Filters) {
		result.warn("schema.filters", "filters only apply to introspected schemas", "")
	}
	validateGlobList(result, "schema.filters.allow_tables", s.Filters.AllowTables)
	validateGlobList(result, "schema.filters.deny_tables", s.Filters.DenyTables)
	validatePatternMap(result, "schema.filters.allow_columns", s.Filters.AllowColumns)
	validatePatternMap(result, "schema.filters.deny_columns", s.Filters.DenyColumns)
}

func isDefaultFilter(f schemafilter.Config) bool {
	if len(f.DenyTables) > 0 || len(f.DenyColumns) > 0 {
		return false
	}
	allowAllTables := len(f.AllowTables) == 0 || (len(f.AllowTables) == 1 && f.AllowTables[0] == "*")
	cols := f.AllowColumns["*"]
	allowAllColumns := len(f.AllowColumns) == 0 ||
		(len(f.AllowColumns) == 1 && len(cols) == 1 && cols[0] == "*")
	return allowAllTables && allowAllColumns
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.fail(field, "pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
			result.fail(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "")
		}
	}
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.fail(field, "table pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "probe"); err != nil {
			result.fail(field, fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err), "")
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.fail(field, fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern), "")
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "probe"); err != nil {
				result.fail(field, fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err), "")
			}
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}
	if _, err := d.DatabaseName(); err != nil {
		result.fail("database.database", err.Error(),
			"set database.database or include a /database in database.dsn")
	}

	switch d.TLS.Mode {
	case "", "off", "skip-verify":
	case "verify-ca", "verify-full":
		if d.TLS.CAFile == "" {
			result.warn("database.tls.ca_file", "no CA file set for "+d.TLS.Mode, "the system root CAs will be used")
		}
	default:
		result.fail("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", d.TLS.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (d.TLS.CertFile == "") != (d.TLS.KeyFile == "") {
		result.fail("database.tls", "cert_file and key_file must be set together", "")
	}

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}
}

func (l *LoggingConfig) validate(result *ValidationResult) {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		result.fail("log.level", fmt.Sprintf("invalid log level %q", l.Level),
			"valid values are: debug, info, warn, error")
	}
	switch l.Format {
	case "json", "text":
	default:
		result.fail("log.format", fmt.Sprintf("invalid log format %q", l.Format), "valid values are: json, text")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v must be between 0 and 1", o.TraceSampleRatio), "")
	}
	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	switch o.Protocol {
	case "", "grpc":
	case "http/protobuf":
		if !validOTLPEndpoint(o.Endpoint) {
			result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				"use host:port or a full URL")
		}
	default:
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	switch o.Compression {
	case "", "none", "gzip":
	default:
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
