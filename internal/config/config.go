package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hray3182/calpilot/internal/tools"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names an optional YAML file loaded before the environment.
const EnvConfigFile = "CALPILOT_CONFIG"

type Config struct {
	DatabaseURI   string `yaml:"database_uri"`
	TelegramToken string `yaml:"telegram_token"`
	NotifyChatID  int64  `yaml:"notify_chat_id"`

	AIAPIKey     string        `yaml:"ai_api_key"`
	AIBaseURL    string        `yaml:"ai_base_url"`
	AIModel      string        `yaml:"ai_model"`
	AIStream     bool          `yaml:"ai_stream"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	MaxRounds    int           `yaml:"max_tool_rounds"`

	Timezone   string        `yaml:"timezone"`
	WorkStart  string        `yaml:"work_start"`
	WorkEnd    string        `yaml:"work_end"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	HTTPAddr    string `yaml:"http_addr"`
	NotifyCron  string `yaml:"notify_cron"`
	SummaryCron string `yaml:"summary_cron"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() Config {
	return Config{
		AIBaseURL:    "https://openrouter.ai/api/v1",
		AIModel:      "openai/gpt-4o-mini",
		AIStream:     true,
		ModelTimeout: 60 * time.Second,
		MaxRounds:    5,
		Timezone:     "Asia/Shanghai",
		WorkStart:    "09:00",
		WorkEnd:      "17:00",
		SessionTTL:   2 * time.Hour,
		HTTPAddr:     ":8080",
		NotifyCron:   "@every 1m",
		SummaryCron:  "0 8 * * *",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads .env (optional), then the YAML file at path or $CALPILOT_CONFIG
// (optional), then the environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	cfg := defaults()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.DatabaseURI = getEnvOrDefault("DATABASE_URI", c.DatabaseURI)
	c.TelegramToken = getEnvOrDefault("TELEGRAM_TOKEN", c.TelegramToken)
	c.AIAPIKey = getEnvOrDefault("AI_API_KEY", c.AIAPIKey)
	c.AIBaseURL = getEnvOrDefault("AI_BASE_URL", c.AIBaseURL)
	c.AIModel = getEnvOrDefault("AI_MODEL", c.AIModel)
	c.Timezone = getEnvOrDefault("TIMEZONE", c.Timezone)
	c.WorkStart = getEnvOrDefault("WORK_START", c.WorkStart)
	c.WorkEnd = getEnvOrDefault("WORK_END", c.WorkEnd)
	c.HTTPAddr = getEnvOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.NotifyCron = getEnvOrDefault("NOTIFY_CRON", c.NotifyCron)
	c.SummaryCron = getEnvOrDefault("SUMMARY_CRON", c.SummaryCron)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)

	var err error
	if c.MaxRounds, err = getEnvInt("MAX_TOOL_ROUNDS", c.MaxRounds); err != nil {
		return err
	}
	if c.ModelTimeout, err = getEnvDuration("MODEL_TIMEOUT", c.ModelTimeout); err != nil {
		return err
	}
	if c.SessionTTL, err = getEnvDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.AIStream, err = getEnvBool("AI_STREAM", c.AIStream); err != nil {
		return err
	}
	chatID, err := getEnvInt("NOTIFY_CHAT_ID", int(c.NotifyChatID))
	if err != nil {
		return err
	}
	c.NotifyChatID = int64(chatID)
	return nil
}

// Validate checks the values every command depends on. Credentials are
// checked by the commands that need them.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	if _, err := tools.ParseWorkHours(c.WorkStart, c.WorkEnd); err != nil {
		errs = append(errs, err)
	}
	if c.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("MAX_TOOL_ROUNDS must be positive, got %d", c.MaxRounds))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MODEL_TIMEOUT must be positive, got %s", c.ModelTimeout))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	return errors.Join(errs...)
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c *Config) WorkHours() (tools.WorkHours, error) {
	return tools.ParseWorkHours(c.WorkStart, c.WorkEnd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
