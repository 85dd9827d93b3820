package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Minio    MinioConfig    `yaml:"minio"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Users    []User         `yaml:"users"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
}

type ServerConfig struct {
	Port                int `yaml:"port"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// MinioConfig configures storage of the original uploads. An empty endpoint
// disables object storage.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// LLMConfig lists the model backends in the order they are tried. When no
// candidates are given, one is built per entry of Models using the top-level
// provider, key and base URL.
type LLMConfig struct {
	Provider    string           `yaml:"provider"`
	APIKey      string           `yaml:"api_key"`
	BaseURL     string           `yaml:"base_url"`
	Models      []string         `yaml:"models"`
	Candidates  []ModelCandidate `yaml:"candidates"`
	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
}

type ModelCandidate struct {
	Provider string `yaml:"provider"` // anthropic, openai, gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type AnalysisConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxUploadMB    int `yaml:"max_upload_mb"`
	MaxPromptChars int `yaml:"max_prompt_chars"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite3, mysql, pgx
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables a shared rate limiter when Addr is set
type RedisConfig struct {
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	RateLimit         int    `yaml:"rate_limit"`
	RateWindowSeconds int    `yaml:"rate_window_seconds"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	MaxContracts int `yaml:"max_contracts"`
}

// DefaultModels are tried in order when nothing else is configured.
var DefaultModels = []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"}

// providerKeyEnv names the environment variable holding each provider's key.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and applies defaults and environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 120
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if len(c.LLM.Candidates) == 0 {
		models := c.LLM.Models
		if len(models) == 0 {
			models = DefaultModels
		}
		for _, m := range models {
			c.LLM.Candidates = append(c.LLM.Candidates, ModelCandidate{
				Provider: c.LLM.Provider,
				Model:    m,
				APIKey:   c.LLM.APIKey,
				BaseURL:  c.LLM.BaseURL,
			})
		}
	}
	for i := range c.LLM.Candidates {
		if c.LLM.Candidates[i].Provider == "" {
			c.LLM.Candidates[i].Provider = c.LLM.Provider
		}
	}
	if c.Analysis.TimeoutSeconds == 0 {
		c.Analysis.TimeoutSeconds = 45
	}
	if c.Analysis.MaxUploadMB == 0 {
		c.Analysis.MaxUploadMB = 20
	}
	if c.Analysis.MaxPromptChars == 0 {
		c.Analysis.MaxPromptChars = 60000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Redis.RateLimit == 0 {
		c.Redis.RateLimit = 100
	}
	if c.Redis.RateWindowSeconds == 0 {
		c.Redis.RateWindowSeconds = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.MaxContracts == 0 {
		c.Store.MaxContracts = 1000
	}
}

func (c *Config) applyEnv() {
	for i := range c.LLM.Candidates {
		cand := &c.LLM.Candidates[i]
		if cand.APIKey != "" {
			continue
		}
		if env, ok := providerKeyEnv[strings.ToLower(cand.Provider)]; ok {
			cand.APIKey = os.Getenv(env)
		}
	}
	if dsn := os.Getenv("CONTRACTRISK_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("CONTRACTRISK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}

// Timeout is the wall-clock budget of the model path.
func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MaxUploadBytes is the largest accepted upload.
func (a AnalysisConfig) MaxUploadBytes() int64 {
	return int64(a.MaxUploadMB) << 20
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
