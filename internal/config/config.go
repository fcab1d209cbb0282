package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`

	ModelPath      string `yaml:"model_path"`
	MetadataPath   string `yaml:"metadata_path"`
	RuntimeLibrary string `yaml:"onnxruntime_lib"`
	IntraOpThreads int    `yaml:"intra_op_threads"`

	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	StrictErrors bool   `yaml:"strict_errors"` // report decode failures as 400 instead of 500
	AllowOrigin  string `yaml:"cors_allow_origin"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              5000,
		Debug:             true,
		ModelPath:         filepath.Join("models", "mobilenet_v3_large.onnx"),
		MetadataPath:      filepath.Join("models", "model_metadata.json"),
		MaxBodyBytes:      10 << 20,
		AllowOrigin:       "*",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_PATH (if set) and finally the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the values present in a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.MetadataPath = getEnv("METADATA_PATH", c.MetadataPath)
	c.RuntimeLibrary = getEnv("ONNXRUNTIME_LIB", c.RuntimeLibrary)
	c.IntraOpThreads = getEnvAsInt("INTRA_OP_THREADS", c.IntraOpThreads)
	c.MaxBodyBytes = getEnvAsInt64("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.StrictErrors = getEnvAsBool("STRICT_ERRORS", c.StrictErrors)
	c.AllowOrigin = getEnv("CORS_ALLOW_ORIGIN", c.AllowOrigin)
	c.ReadHeaderTimeout = getEnvAsDuration("READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if c.MetadataPath == "" {
		return fmt.Errorf("metadata path is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.IntraOpThreads < 0 {
		return fmt.Errorf("intra op threads must not be negative, got %d", c.IntraOpThreads)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
