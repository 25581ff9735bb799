package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".speedbench/config.yaml"

// DefaultSource is the placeholder document of a fresh or reset session.
const DefaultSource = "# Paste Python code or a compute task prompt here..."

type OptimizerConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	Path       string        `yaml:"path"`
	Variant    string        `yaml:"variant"`
	APIKey     string        `yaml:"api_key"`
	Models     []string      `yaml:"models"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheSize  int           `yaml:"cache_size"`
}

type ExecutorConfig struct {
	BaseURL     string        `yaml:"base_url"`
	SinglePath  string        `yaml:"single_path"`
	ClusterPath string        `yaml:"cluster_path"`
	Variant     string        `yaml:"variant"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ClusterConfig struct {
	WorkerCount int `yaml:"worker_count"`
}

type SessionConfig struct {
	MinSourceLength     *int   `yaml:"min_source_length"`
	ClearArtifactOnEdit *bool  `yaml:"clear_artifact_on_edit"`
	Placeholder         string `yaml:"placeholder"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	AllowOrigin string `yaml:"allow_origin"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Load loads YAML config, then .env, then env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// A missing .env is the common case.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

// BaseDir returns ~/.speedbench.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".speedbench"), nil
}

func (c *Config) SetDefaults() {
	if c.Optimizer.Provider == "" {
		c.Optimizer.Provider = "http"
	}
	if c.Optimizer.BaseURL == "" {
		c.Optimizer.BaseURL = "http://localhost:8080"
	}
	if c.Optimizer.Variant == "" {
		c.Optimizer.Variant = "input"
	}
	if c.Optimizer.Path == "" {
		if c.Optimizer.Variant == "deploy" {
			c.Optimizer.Path = "/deploy"
		} else {
			c.Optimizer.Path = "/api/optimize"
		}
	}
	if len(c.Optimizer.Models) == 0 {
		c.Optimizer.Models = []string{"gemini-1.5-pro", "gemini-2.5-flash"}
	}
	if c.Optimizer.Timeout == 0 {
		c.Optimizer.Timeout = 120 * time.Second
	}
	if c.Executor.BaseURL == "" {
		c.Executor.BaseURL = c.Optimizer.BaseURL
	}
	if c.Executor.Variant == "" {
		c.Executor.Variant = "bare"
	}
	if c.Executor.SinglePath == "" {
		if c.Executor.Variant == "source" {
			c.Executor.SinglePath = "/deploy"
		} else {
			c.Executor.SinglePath = "/api/run/single"
		}
	}
	if c.Executor.ClusterPath == "" {
		if c.Executor.Variant == "source" {
			c.Executor.ClusterPath = "/deploy"
		} else {
			c.Executor.ClusterPath = "/api/run/cluster"
		}
	}
	if c.Executor.Timeout == 0 {
		c.Executor.Timeout = 5 * time.Minute
	}
	if c.Cluster.WorkerCount == 0 {
		c.Cluster.WorkerCount = 4
	}
	if c.Session.MinSourceLength == nil {
		n := 5
		c.Session.MinSourceLength = &n
	}
	if c.Session.ClearArtifactOnEdit == nil {
		v := true
		c.Session.ClearArtifactOnEdit = &v
	}
	if c.Session.Placeholder == "" {
		c.Session.Placeholder = DefaultSource
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		if dir, err := BaseDir(); err == nil {
			c.Store.Path = filepath.Join(dir, "speedbench.db")
		} else {
			c.Store.Path = "speedbench.db"
		}
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.AllowOrigin == "" {
		c.Server.AllowOrigin = "*"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ClearArtifactOnEdit reports the edit invalidation policy.
func (c *Config) ClearArtifactOnEdit() bool {
	return c.Session.ClearArtifactOnEdit == nil || *c.Session.ClearArtifactOnEdit
}

// MinSourceLength is the shortest source, in characters, that may be optimized.
func (c *Config) MinSourceLength() int {
	if c.Session.MinSourceLength == nil {
		return 5
	}
	return *c.Session.MinSourceLength
}

func (c *Config) Validate() error {
	switch c.Optimizer.Provider {
	case "http":
		if strings.TrimSpace(c.Optimizer.BaseURL) == "" {
			return errors.New("optimizer.base_url cannot be empty")
		}
	case "gemini":
		if strings.TrimSpace(c.Optimizer.APIKey) == "" {
			return errors.New("optimizer.api_key cannot be empty for provider gemini")
		}
	default:
		return fmt.Errorf("optimizer.provider %q not supported", c.Optimizer.Provider)
	}
	if c.Optimizer.Variant != "input" && c.Optimizer.Variant != "deploy" {
		return fmt.Errorf("optimizer.variant %q not supported", c.Optimizer.Variant)
	}
	if c.Optimizer.MaxRetries < 0 {
		return errors.New("optimizer.max_retries cannot be negative")
	}
	if strings.TrimSpace(c.Executor.BaseURL) == "" {
		return errors.New("executor.base_url cannot be empty")
	}
	if c.Executor.Variant != "bare" && c.Executor.Variant != "source" {
		return fmt.Errorf("executor.variant %q not supported", c.Executor.Variant)
	}
	if c.Cluster.WorkerCount <= 0 {
		return errors.New("cluster.worker_count must be positive")
	}
	if c.Session.MinSourceLength != nil && *c.Session.MinSourceLength < 0 {
		return errors.New("session.min_source_length cannot be negative")
	}
	switch c.Store.Driver {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.Optimizer.Provider, "SPEEDBENCH_OPTIMIZER_PROVIDER")
	setString(&c.Optimizer.BaseURL, "SPEEDBENCH_OPTIMIZER_BASE_URL")
	setString(&c.Optimizer.Variant, "SPEEDBENCH_OPTIMIZER_VARIANT")
	setString(&c.Optimizer.APIKey, "GEMINI_API_KEY")
	setString(&c.Optimizer.APIKey, "SPEEDBENCH_OPTIMIZER_API_KEY")
	setDuration(&c.Optimizer.Timeout, "SPEEDBENCH_OPTIMIZER_TIMEOUT")
	setInt(&c.Optimizer.MaxRetries, "SPEEDBENCH_OPTIMIZER_MAX_RETRIES")
	setInt(&c.Optimizer.CacheSize, "SPEEDBENCH_OPTIMIZER_CACHE_SIZE")
	setString(&c.Executor.BaseURL, "SPEEDBENCH_EXECUTOR_BASE_URL")
	setString(&c.Executor.Variant, "SPEEDBENCH_EXECUTOR_VARIANT")
	setDuration(&c.Executor.Timeout, "SPEEDBENCH_EXECUTOR_TIMEOUT")
	setInt(&c.Cluster.WorkerCount, "SPEEDBENCH_CLUSTER_WORKER_COUNT")
	setIntPtr(&c.Session.MinSourceLength, "SPEEDBENCH_SESSION_MIN_SOURCE_LENGTH")
	setBool(&c.Session.ClearArtifactOnEdit, "SPEEDBENCH_SESSION_CLEAR_ARTIFACT_ON_EDIT")
	setString(&c.Store.Driver, "SPEEDBENCH_STORE_DRIVER")
	setString(&c.Store.Path, "SPEEDBENCH_STORE_PATH")
	setString(&c.Store.RedisAddr, "SPEEDBENCH_STORE_REDIS_ADDR")
	setString(&c.Server.Host, "SPEEDBENCH_SERVER_HOST")
	setInt(&c.Server.Port, "SPEEDBENCH_SERVER_PORT")
	setString(&c.Log.Level, "SPEEDBENCH_LOG_LEVEL")
	setString(&c.Log.Format, "SPEEDBENCH_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setIntPtr(dst **int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = &n
		}
	}
}

func setBool(dst **bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = &b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
