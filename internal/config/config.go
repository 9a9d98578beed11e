package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kiranshivaraju/whisperd/internal/engine"
)

// Config holds all configuration for the whisperd server.
type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	S3       S3Config
	HTTP     HTTPConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	OutDir    string
	APITokens []string
}

type WorkerConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	RateLimit int
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether s3:// inputs can be served.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// HTTPConfig controls http(s) inputs on the uri endpoint.
type HTTPConfig struct {
	Enabled       bool
	Username      string
	Password      string
	HeaderTimeout time.Duration
}

// EngineConfig configures the whisper.cpp pipeline. It can be loaded from
// the YAML file named by WHISPERD_ENGINE_CONFIG; environment variables win.
type EngineConfig struct {
	WhisperBin string         `yaml:"whisper_bin"`
	FFmpegBin  string         `yaml:"ffmpeg_bin"`
	ModelPath  string         `yaml:"model_path"`
	Threads    int            `yaml:"threads"`
	Defaults   engine.Options `yaml:"defaults"`
}

// Load reads configuration from .env (when present) and environment
// variables and returns a validated Config.
func Load() (*Config, error) {
	eng, err := LoadEngine()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("WHISPERD_PORT", 59110),
			Env:       envString("WHISPERD_ENV", "development"),
			OutDir:    envString("WHISPERD_OUT_DIR", "exp/whisper"),
			APITokens: envList("WHISPERD_API_TOKENS"),
		},
		Worker: WorkerConfig{
			Workers:     envInt("WHISPERD_WORKERS", 2),
			QueueSize:   envInt("WHISPERD_QUEUE_SIZE", 64),
			TaskTimeout: envDuration("WHISPERD_TASK_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			RateLimit: envInt("WHISPERD_RATE_LIMIT", 60),
		},
		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			UseSSL:    envBool("S3_USE_SSL", false),
		},
		HTTP: HTTPConfig{
			Enabled:       envBool("WHISPERD_HTTP_INPUTS", false),
			Username:      os.Getenv("WHISPERD_HTTP_USERNAME"),
			Password:      os.Getenv("WHISPERD_HTTP_PASSWORD"),
			HeaderTimeout: envDuration("WHISPERD_HTTP_TIMEOUT", 30*time.Second),
		},
		Engine: eng,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("WHISPERD_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.OutDir == "" {
		return fmt.Errorf("WHISPERD_OUT_DIR is required")
	}

	if len(c.Server.APITokens) == 0 && c.Database.URL == "" {
		return fmt.Errorf("WHISPERD_API_TOKENS or DATABASE_URL is required")
	}

	if c.Worker.Workers < 1 {
		return fmt.Errorf("WHISPERD_WORKERS must be positive, got %d", c.Worker.Workers)
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("WHISPERD_QUEUE_SIZE must be positive, got %d", c.Worker.QueueSize)
	}

	if c.Redis.URL != "" {
		if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
			return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
		}
		if c.Redis.RateLimit < 1 {
			return fmt.Errorf("WHISPERD_RATE_LIMIT must be positive, got %d", c.Redis.RateLimit)
		}
	}

	if c.S3.Enabled() {
		if strings.Contains(c.S3.Endpoint, "://") {
			return fmt.Errorf("S3_ENDPOINT must be host[:port] without a scheme, got %q", c.S3.Endpoint)
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
		}
	}

	if c.HTTP.Enabled && c.HTTP.HeaderTimeout <= 0 {
		return fmt.Errorf("WHISPERD_HTTP_TIMEOUT must be positive, got %s", c.HTTP.HeaderTimeout)
	}

	return nil
}

// LoadEngine reads only the engine section: .env, then the YAML file named
// by WHISPERD_ENGINE_CONFIG, then environment overrides.
func LoadEngine() (EngineConfig, error) {
	if err := loadDotEnv(envString("WHISPERD_ENV_FILE", ".env")); err != nil {
		return EngineConfig{}, err
	}

	file, err := loadEngine(os.Getenv("WHISPERD_ENGINE_CONFIG"))
	if err != nil {
		return EngineConfig{}, err
	}

	eng := EngineConfig{
		WhisperBin: envString("WHISPER_BIN", orDefault(file.WhisperBin, "whisper-cli")),
		FFmpegBin:  envString("FFMPEG_BIN", orDefault(file.FFmpegBin, "ffmpeg")),
		ModelPath:  envString("WHISPER_MODEL", file.ModelPath),
		Threads:    envInt("WHISPER_THREADS", file.Threads),
		Defaults: engine.Options{
			Lang:  envString("WHISPER_LANG", orDefault(file.Defaults.Lang, "en")),
			Task:  envString("WHISPER_TASK", orDefault(file.Defaults.Task, engine.TaskTranscribe)),
			Model: envString("WHISPER_MODEL_NAME", file.Defaults.Model),
		},
	}

	if err := eng.Defaults.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("engine defaults: %w", err)
	}
	if eng.Threads < 0 {
		return EngineConfig{}, fmt.Errorf("WHISPER_THREADS must not be negative, got %d", eng.Threads)
	}
	return eng, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func loadEngine(path string) (EngineConfig, error) {
	var cfg EngineConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("WHISPERD_ENGINE_CONFIG: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("WHISPERD_ENGINE_CONFIG: parse %s: %w", path, err)
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
