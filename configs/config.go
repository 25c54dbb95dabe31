package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full worker configuration. Values are resolved in three
// layers: built-in defaults, an optional YAML file, then environment
// variables (highest precedence).
type Config struct {
	RedisHost     string   `yaml:"redis_host"`
	RedisPort     string   `yaml:"redis_port"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`

	JobStream     string `yaml:"job_stream"`
	ResultStream  string `yaml:"result_stream"`
	ConsumerGroup string `yaml:"consumer_group"`

	Concurrency       int           `yaml:"concurrency"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RegistrationTTL   int           `yaml:"registration_ttl"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`

	OpsPort string `yaml:"ops_port"`

	LogLevel    string `yaml:"log_level"`
	LogEncoding string `yaml:"log_encoding"`

	ArchiveBackend       string        `yaml:"archive_backend"` // off, local, s3
	ArchiveDir           string        `yaml:"archive_dir"`
	ArchiveRetention     time.Duration `yaml:"archive_retention"`
	ArchiveSweepSchedule string        `yaml:"archive_sweep_schedule"`

	S3Bucket          string `yaml:"s3_bucket"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3Region          string `yaml:"s3_region"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`

	TracingEnabled    bool    `yaml:"tracing_enabled"`
	TracingEndpoint   string  `yaml:"tracing_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

// LoadConfig resolves the configuration. path points at an optional YAML
// file; when empty, the WORKER_CONFIG environment variable is consulted.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("WORKER_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		RedisHost:            "localhost",
		RedisPort:            "6379",
		EtcdEndpoints:        []string{"localhost:2379"},
		JobStream:            "jobs:cmdline:pending",
		ResultStream:         "jobs:cmdline:completed",
		ConsumerGroup:        "cmdline-workers",
		Concurrency:          runtime.NumCPU(),
		HeartbeatInterval:    5 * time.Second,
		RegistrationTTL:      10,
		ShutdownGrace:        30 * time.Second,
		OpsPort:              "8090",
		LogLevel:             "info",
		LogEncoding:          "json",
		ArchiveBackend:       "off",
		ArchiveDir:           "/var/lib/cmdworker/outputs",
		ArchiveRetention:     7 * 24 * time.Hour,
		ArchiveSweepSchedule: "0 * * * *",
		S3Prefix:             "outputs/",
		S3Region:             "us-east-1",
		TracingEndpoint:      "localhost:4318",
		TracingSampleRate:    1.0,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// applyFile overlays values from a YAML file. ${VAR} references inside the
// file are interpolated from the environment before parsing.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	interpolated := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	if err := yaml.Unmarshal([]byte(interpolated), c); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	if v, ok := os.LookupEnv("ETCD_ENDPOINTS"); ok {
		c.EtcdEndpoints = []string{v}
	}
	c.JobStream = getEnv("JOB_STREAM", c.JobStream)
	c.ResultStream = getEnv("RESULT_STREAM", c.ResultStream)
	c.ConsumerGroup = getEnv("CONSUMER_GROUP", c.ConsumerGroup)
	c.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", c.Concurrency)
	c.HeartbeatInterval = getEnvAsDuration("HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.RegistrationTTL = getEnvAsInt("REGISTRATION_TTL", c.RegistrationTTL)
	c.ShutdownGrace = getEnvAsDuration("SHUTDOWN_GRACE", c.ShutdownGrace)
	c.OpsPort = getEnv("OPS_PORT", c.OpsPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogEncoding = getEnv("LOG_ENCODING", c.LogEncoding)
	c.ArchiveBackend = getEnv("ARCHIVE_BACKEND", c.ArchiveBackend)
	c.ArchiveDir = getEnv("ARCHIVE_DIR", c.ArchiveDir)
	c.ArchiveRetention = getEnvAsDuration("ARCHIVE_RETENTION", c.ArchiveRetention)
	c.ArchiveSweepSchedule = getEnv("ARCHIVE_SWEEP_SCHEDULE", c.ArchiveSweepSchedule)
	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3Prefix = getEnv("S3_PREFIX", c.S3Prefix)
	c.S3Region = getEnv("S3_REGION", c.S3Region)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.S3SecretAccessKey)
	c.TracingEnabled = getEnvAsBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingSampleRate = getEnvAsFloat("TRACING_SAMPLE_RATE", c.TracingSampleRate)
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
