package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes environment variables, e.g. CONTENTSQL_DATABASE_HOST.
const EnvPrefix = "CONTENTSQL"

// Load parses args into fs and builds the configuration with the following
// precedence:
// 1. Explicit overrides (files read for secrets, interactive password prompt)
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// The first positional argument is taken as the request file when
// request_file is not set otherwise.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if fs.Lookup("config") == nil {
		DefineFlags(fs)
	}
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("contentsql")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.contentsql")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dot + snake_case; env vars replace dots with
	// underscores: CONTENTSQL_COMPILER_MAX_PAGE_SIZE.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlags(fs, v)
	if v.GetString("request_file") == "" && fs.NArg() > 0 {
		v.Set("request_file", fs.Arg(0))
	}
	if err := validateSingleStdinSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlags copies only explicitly-set flags into Viper, preserving
// precedence: flags > env > file > defaults.
func bindChangedFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags defines all command line flags using canonical snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file path")
	fs.Bool("version", false, "Print version and exit")

	fs.StringP("request_file", "r", "", "Content request YAML file (use @- for stdin)")
	fs.StringP("output", "o", "", "Output format (text, json)")
	fs.Bool("descriptor", false, "Include the content descriptor in the output")

	fs.Int("compiler.max_compound_select", 0, "Maximum SELECTs per existence probe")
	fs.Bool("compiler.check_existence", false, "Drop content sources without instances (requires a database)")
	fs.Int("compiler.max_page_size", 0, "Upper bound for descriptor paging size")

	fs.String("schema.file", "", "YAML schema file")
	fs.Bool("schema.introspect", false, "Build the schema by introspecting the database")
	fs.String("schema.name", "", "Schema name for introspected classes (default: database name)")
	fs.StringSlice("schema.filters.allow_tables", nil, "Table globs to include when introspecting")
	fs.StringSlice("schema.filters.deny_tables", nil, "Table globs to exclude when introspecting")
	fs.Bool("schema.filters.scan_views_enabled", false, "Map views to classes when introspecting")

	fs.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")

	fs.String("log.level", "", "Log level (debug, info, warn, error)")
	fs.String("log.format", "", "Log format (json, text)")
	fs.Bool("log.exports_enabled", false, "Enable OTLP log export")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.Bool("observability.metrics_enabled", false, "Collect compiler metrics and log them at exit")
	fs.Bool("observability.tracing_enabled", false, "Enable tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("request_file", "")
	v.SetDefault("output", OutputText)
	v.SetDefault("descriptor", false)

	v.SetDefault("compiler.max_compound_select", 500)
	v.SetDefault("compiler.check_existence", false)
	v.SetDefault("compiler.max_page_size", 1000)

	v.SetDefault("schema.file", "")
	v.SetDefault("schema.introspect", false)
	v.SetDefault("schema.name", "")
	v.SetDefault("schema.filters.allow_tables", []string{"*"})
	v.SetDefault("schema.filters.deny_tables", []string{})
	v.SetDefault("schema.filters.scan_views_enabled", false)
	v.SetDefault("schema.filters.allow_columns", map[string][]string{"*": {"*"}})
	v.SetDefault("schema.filters.deny_columns", map[string][]string{})
	v.SetDefault("schema.naming.plural_overrides", map[string]string{})
	v.SetDefault("schema.naming.singular_overrides", map[string]string{})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 4)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.exports_enabled", false)

	v.SetDefault("observability.service_name", "contentsql")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
}

// promptPassword prompts for a password without echoing to the terminal.
// The prompt goes to stderr; stdout carries compiled SQL.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	data, err := ReadFileOrStdin(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadFileOrStdin reads path, or stdin when path is "@-".
func ReadFileOrStdin(path string) ([]byte, error) {
	if path == "@-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// validateSingleStdinSource rejects more than one setting reading stdin.
func validateSingleStdinSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"request_file",
		"database.dsn_file",
		"database.password_file",
	}
	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple settings read stdin via @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
