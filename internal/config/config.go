package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	AI          AIConfig                  `json:"ai" yaml:"ai"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Auth        AuthConfig                `json:"auth" yaml:"auth"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	Database          string `json:"database" yaml:"database"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // minutes
	MaxUploadMB       int64  `json:"max_upload_mb" yaml:"max_upload_mb"`
	UserStorageMB     int64  `json:"user_storage_limit_mb" yaml:"user_storage_limit_mb"`
	SendRatePerMinute int    `json:"send_rate_per_minute" yaml:"send_rate_per_minute"`
	SendRateBurst     int    `json:"send_rate_burst" yaml:"send_rate_burst"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ProviderConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Region    string `json:"region" yaml:"region"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

// AIConfig selects the provider and models used for replies and titles.
type AIConfig struct {
	Provider       string                `json:"provider" yaml:"provider"`
	ChatModel      string                `json:"chat_model" yaml:"chat_model"`
	TitleModel     string                `json:"title_model" yaml:"title_model"`
	TimeoutSeconds int                   `json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSec float64               `json:"requests_per_second" yaml:"requests_per_second"`
	Pricing        map[string]ModelPrice `json:"pricing" yaml:"pricing"`
}

// ModelPrice is the USD cost per thousand tokens.
type ModelPrice struct {
	PromptPer1K     float64 `json:"prompt_per_1k" yaml:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completion_per_1k" yaml:"completion_per_1k"`
}

type StorageConfig struct {
	Backend         string `json:"backend" yaml:"backend"` // local | gcs
	LocalDir        string `json:"local_dir" yaml:"local_dir"`
	PublicBaseURL   string `json:"public_base_url" yaml:"public_base_url"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

type AuthConfig struct {
	Store             string `json:"store" yaml:"store"` // sql | redis
	SessionTTLHours   int    `json:"session_ttl_hours" yaml:"session_ttl_hours"`
	CookieName        string `json:"cookie_name" yaml:"cookie_name"`
	CSRFCookieName    string `json:"csrf_cookie_name" yaml:"csrf_cookie_name"`
	CSRFHeaderName    string `json:"csrf_header_name" yaml:"csrf_header_name"`
	SweepIntervalMins int    `json:"sweep_interval_minutes" yaml:"sweep_interval_minutes"`
	SecureCookies     bool   `json:"secure_cookies" yaml:"secure_cookies"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

const (
	EnvConfigPath = "LEXCHAT_CONFIG"
	EnvDatabase   = "LEXCHAT_DB"
)

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first so provider keys
// can stay out of the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg, err := Parse(raw, filepath.Ext(absPath))
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes raw config bytes. ext selects YAML for ".yaml"/".yml", JSON otherwise.
func Parse(raw []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if db := os.Getenv(EnvDatabase); db != "" {
		c.BasicConfig.Database = db
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv(strings.ToUpper(name) + "_API_KEY")
		}
		if p.AccessKey == "" {
			p.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		}
		if p.SecretKey == "" {
			p.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		}
		if p.Region == "" {
			p.Region = os.Getenv("AWS_REGION")
		}
		c.Providers[name] = p
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 128
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 10
	}
	if b.UserStorageMB <= 0 {
		b.UserStorageMB = 50
	}
	if b.SendRatePerMinute <= 0 {
		b.SendRatePerMinute = 20
	}
	if b.SendRateBurst <= 0 {
		b.SendRateBurst = 5
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 120
	}
	if c.AI.ChatModel == "" {
		c.AI.ChatModel = c.Providers[c.AI.Provider].Model
	}
	if c.AI.TitleModel == "" {
		c.AI.TitleModel = c.AI.ChatModel
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data/uploads"
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = "/files"
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "sql"
	}
	if c.Auth.SessionTTLHours <= 0 {
		c.Auth.SessionTTLHours = 7 * 24
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "session_id"
	}
	if c.Auth.CSRFCookieName == "" {
		c.Auth.CSRFCookieName = "csrf_token"
	}
	if c.Auth.CSRFHeaderName == "" {
		c.Auth.CSRFHeaderName = "X-CSRF-Token"
	}
	if c.Auth.SweepIntervalMins <= 0 {
		c.Auth.SweepIntervalMins = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	if c.AI.Provider == "" {
		return errors.New("ai.provider must be configured")
	}
	if _, ok := c.Providers[c.AI.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.AI.Provider)
	}
	switch c.Storage.Backend {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for gcs")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	switch c.Auth.Store {
	case "sql":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("auth.store redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported session store: %s", c.Auth.Store)
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	if c.Storage.LocalDir != "" && !filepath.IsAbs(c.Storage.LocalDir) {
		c.Storage.LocalDir = filepath.Join(base, c.Storage.LocalDir)
	}
	if c.Storage.CredentialsFile != "" && !filepath.IsAbs(c.Storage.CredentialsFile) {
		c.Storage.CredentialsFile = filepath.Join(base, c.Storage.CredentialsFile)
	}
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && !strings.HasPrefix(db.DSN, ":memory:") &&
		!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(base, db.DSN)
		c.Databases["sqlite3"] = db
	}
}

// ProviderFor returns the configuration of the active AI provider.
func (c *Config) ProviderFor(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
