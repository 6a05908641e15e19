// Package config provides configuration management for the property-based testing oracle.
// It loads configuration from environment variables and .env files, plus an
// optional YAML profile holding the tactic budget and diagnostic marker sets.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxProfileSize bounds the size of a profile file read from disk
const MaxProfileSize = 1024 * 1024

//go:embed profile.yaml
var defaultProfileYAML []byte

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Backend   BackendConfig
	Sampling  SamplingConfig
	Oracle    OracleConfig
	Prover    ProverConfig
	Batch     BatchConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration.
// An empty Host disables the run ledger.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration.
// An empty Host disables the shared verdict cache.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// BackendConfig describes how the proof backend process is launched
type BackendConfig struct {
	Command        string
	Args           []string
	WorkDir        string
	ScratchDir     string
	Timeout        time.Duration
	MaxOutputBytes int
}

// Toolchain identifies the backend installation: command, arguments and
// project directory, which pins the toolchain and library versions
func (c BackendConfig) Toolchain() string {
	return strings.Join(append([]string{c.Command, c.WorkDir}, c.Args...), "\x00")
}

// SamplingConfig holds input sampling configuration
type SamplingConfig struct {
	GenerateCount int // samples per parameter for test generation (default: 20)
	TestCount     int // samples per parameter for property testing (default: 100)
	MaxAttempts   int // backend calls per parameter before giving up
	Placeholder   string
}

// OracleConfig holds proof oracle configuration
type OracleConfig struct {
	Profile   Profile
	CacheSize int
	CacheTTL  time.Duration
}

// ProverConfig holds configuration for the LLM-assisted proof fallback.
// An empty Model disables the fallback.
type ProverConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxAttempts int
	Temperature float32
	Timeout     time.Duration
	SharedRPM   int // requests per minute shared through Redis; 0 disables
}

// Enabled reports whether an LLM prover is configured
func (p ProverConfig) Enabled() bool {
	return p.Model != ""
}

// BatchConfig holds batch driver configuration
type BatchConfig struct {
	PaceInterval time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// TelemetryConfig holds tracing configuration.
// An empty Endpoint disables span export.
type TelemetryConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Profile is the tactic budget and marker vocabulary used to build and
// judge backend scripts
type Profile struct {
	Deps        string    `yaml:"deps"`
	MaxRecDepth int       `yaml:"max_rec_depth"`
	Tactics     []string  `yaml:"tactics"`
	Closers     []string  `yaml:"closers"`
	Markers     MarkerSet `yaml:"markers"`
}

// MarkerSet lists the diagnostic substrings the pipeline reacts to
type MarkerSet struct {
	Error             []string `yaml:"error"`
	Incomplete        []string `yaml:"incomplete"`
	NoGenerator       []string `yaml:"no_generator"`
	PlausibleUnusable []string `yaml:"plausible_unusable"`
	Warning           string   `yaml:"warning"`
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	profile, err := LoadProfile(getEnv("ORACLE_PROFILE", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", ""),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "pbt_oracle"),
				User:           getEnv("POSTGRES_USER", "oracle"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Backend: BackendConfig{
			Command:        getEnv("BACKEND_COMMAND", "lake"),
			Args:           getEnvAsList("BACKEND_ARGS", []string{"env", "lean"}),
			WorkDir:        getEnv("BACKEND_WORKDIR", ""),
			ScratchDir:     getEnv("BACKEND_SCRATCH_DIR", ""),
			Timeout:        getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Minute),
			MaxOutputBytes: getEnvAsInt("BACKEND_MAX_OUTPUT_BYTES", 4*1024*1024),
		},
		Sampling: SamplingConfig{
			GenerateCount: getEnvAsInt("SAMPLING_GENERATE_COUNT", 20),
			TestCount:     getEnvAsInt("SAMPLING_TEST_COUNT", 100),
			MaxAttempts:   getEnvAsInt("SAMPLING_MAX_ATTEMPTS", 10),
			Placeholder:   getEnv("SAMPLING_PLACEHOLDER", "(by decide)"),
		},
		Oracle: OracleConfig{
			Profile:   profile,
			CacheSize: getEnvAsInt("ORACLE_CACHE_SIZE", 4096),
			CacheTTL:  getEnvAsDuration("ORACLE_CACHE_TTL", 24*time.Hour),
		},
		Prover: ProverConfig{
			Model:       getEnv("PROVER_MODEL", ""),
			APIKey:      getEnv("PROVER_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:     getEnv("PROVER_BASE_URL", ""),
			MaxAttempts: getEnvAsInt("PROVER_MAX_ATTEMPTS", 5),
			Temperature: float32(getEnvAsFloat("PROVER_TEMPERATURE", 0)),
			Timeout:     getEnvAsDuration("PROVER_TIMEOUT", 2*time.Minute),
			SharedRPM:   getEnvAsInt("PROVER_SHARED_RPM", 0),
		},
		Batch: BatchConfig{
			PaceInterval: getEnvAsDuration("BATCH_PACE_INTERVAL", time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "pbt-oracle"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise cause unbounded or empty runs
func (c *Config) Validate() error {
	if c.Backend.Command == "" {
		return fmt.Errorf("BACKEND_COMMAND must not be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}
	if c.Sampling.GenerateCount <= 0 || c.Sampling.TestCount <= 0 {
		return fmt.Errorf("sample counts must be positive")
	}
	if c.Sampling.MaxAttempts <= 0 {
		return fmt.Errorf("SAMPLING_MAX_ATTEMPTS must be positive, got %d", c.Sampling.MaxAttempts)
	}
	if c.Batch.PaceInterval < 0 {
		return fmt.Errorf("BATCH_PACE_INTERVAL must not be negative")
	}
	return nil
}

// DefaultProfile returns the embedded oracle profile
func DefaultProfile() Profile {
	var p Profile
	if err := yaml.Unmarshal(defaultProfileYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded profile is invalid: %v", err))
	}
	return p
}

// LoadProfile reads a YAML profile from path and layers it over the
// embedded defaults. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Profile{}, fmt.Errorf("stat profile %s: %w", path, err)
	}
	if info.Size() > MaxProfileSize {
		return Profile{}, fmt.Errorf("profile %s exceeds %d bytes", path, MaxProfileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	var override Profile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}

	return profile.merge(override), nil
}

// merge overlays every non-empty field of o
func (p Profile) merge(o Profile) Profile {
	if o.Deps != "" {
		p.Deps = o.Deps
	}
	if o.MaxRecDepth > 0 {
		p.MaxRecDepth = o.MaxRecDepth
	}
	if len(o.Tactics) > 0 {
		p.Tactics = o.Tactics
	}
	if len(o.Closers) > 0 {
		p.Closers = o.Closers
	}
	if len(o.Markers.Error) > 0 {
		p.Markers.Error = o.Markers.Error
	}
	if len(o.Markers.Incomplete) > 0 {
		p.Markers.Incomplete = o.Markers.Incomplete
	}
	if len(o.Markers.NoGenerator) > 0 {
		p.Markers.NoGenerator = o.Markers.NoGenerator
	}
	if len(o.Markers.PlausibleUnusable) > 0 {
		p.Markers.PlausibleUnusable = o.Markers.PlausibleUnusable
	}
	if o.Markers.Warning != "" {
		p.Markers.Warning = o.Markers.Warning
	}
	return p
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a whitespace-separated environment variable as a list
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	return strings.Fields(valueStr)
}
