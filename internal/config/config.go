package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	ErrInvalidPort       = errors.New("server.port must be between 1 and 65535")
	ErrInvalidDriver     = errors.New("db.driver must be 'sqlite' or 'mongo'")
	ErrMissingSQLitePath = errors.New("db.sqlite_path is required for the sqlite driver")
	ErrMissingMongoURI   = errors.New("db.connection and db.database are required for the mongo driver")
	ErrInvalidEngine     = errors.New("fetcher.engine must be 'http' or 'colly'")
	ErrInvalidTimeout    = errors.New("fetcher.timeout_sec must be at least 1")
	ErrInvalidStrategy   = errors.New("keywords.strategy must be 'script' or 'boundary'")
	ErrInvalidMinLength  = errors.New("keywords.min_length must be 2 or 3")
	ErrInvalidCap        = errors.New("keywords.cap must be at least 1")
	ErrInvalidWorkers    = errors.New("ingest.workers must be at least 1")
	ErrInvalidLogLevel   = errors.New("logging.level must be one of: debug, info, warn, error")
)

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_origins"`
	Debug           bool     `yaml:"debug"`
}

type DBConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Articles string `yaml:"articles"`
		Counters string `yaml:"counters"`
	} `yaml:"collections"`
}

type FetcherConfig struct {
	Engine        string `yaml:"engine"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	UserAgent     string `yaml:"user_agent"`
	MaxRedirects  int    `yaml:"max_redirects"`
	RespectRobots bool   `yaml:"respect_robots"`
	MinTextLength int    `yaml:"min_text_length"`
}

type KeywordsConfig struct {
	Strategy       string   `yaml:"strategy"`
	MinLength      int      `yaml:"min_length"`
	Cap            int      `yaml:"cap"`
	ExtraStopWords []string `yaml:"extra_stop_words"`
}

type IngestConfig struct {
	Workers int `yaml:"workers"`
	DelayMS int `yaml:"delay_ms"`
	MaxURLs int `yaml:"max_urls"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Keywords KeywordsConfig `yaml:"keywords"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 60,
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		DB: DBConfig{
			Driver:     "sqlite",
			SQLitePath: "newsletter.db",
			Database:   "newsletter",
		},
		Fetcher: FetcherConfig{
			Engine:        "http",
			TimeoutSec:    30,
			UserAgent:     "Mozilla/5.0 (compatible; NewsletterBot/1.0)",
			MaxRedirects:  15,
			RespectRobots: true,
		},
		Keywords: KeywordsConfig{
			Strategy:  "script",
			MinLength: 2,
			Cap:       10,
		},
		Ingest: IngestConfig{
			Workers: 4,
			DelayMS: 500,
			MaxURLs: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	cfg.DB.Collections.Articles = "articles"
	cfg.DB.Collections.Counters = "counters"
	return cfg
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.SQLitePath == "" {
			return ErrMissingSQLitePath
		}
	case "mongo":
		if c.DB.Connection == "" || c.DB.Database == "" {
			return ErrMissingMongoURI
		}
	default:
		return ErrInvalidDriver
	}

	if c.Fetcher.Engine != "http" && c.Fetcher.Engine != "colly" {
		return ErrInvalidEngine
	}
	if c.Fetcher.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Keywords.Strategy != "script" && c.Keywords.Strategy != "boundary" {
		return ErrInvalidStrategy
	}
	if c.Keywords.MinLength != 2 && c.Keywords.MinLength != 3 {
		return ErrInvalidMinLength
	}
	if c.Keywords.Cap < 1 {
		return ErrInvalidCap
	}

	if c.Ingest.Workers < 1 {
		return ErrInvalidWorkers
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (f *FetcherConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec) * time.Second
}

func (i *IngestConfig) Delay() time.Duration {
	return time.Duration(i.DelayMS) * time.Millisecond
}
