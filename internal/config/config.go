package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server struct {
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
		Timeout            time.Duration `yaml:"timeout"`
	} `yaml:"server"`
	Credentials struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Domain   string `yaml:"domain"`
	} `yaml:"credentials"`
	Collect struct {
		PageSize          int     `yaml:"page_size"`
		ParallelGlobals   bool    `yaml:"parallel_globals"`
		EnrichWorkers     int     `yaml:"enrich_workers"`
		RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
		Retries           int     `yaml:"retries"`
	} `yaml:"collect"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Output struct {
		ResultPath string `yaml:"result_path"`
		ReportPath string `yaml:"report_path"`
	} `yaml:"output"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`
	Serve struct {
		Listen   string        `yaml:"listen"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"serve"`
}

// Default returns a config with every optional setting filled in.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 443
	cfg.Server.Timeout = 30 * time.Second
	cfg.Collect.PageSize = 1000
	cfg.Collect.EnrichWorkers = 1
	cfg.Collect.Retries = 2
	cfg.Storage.DBPath = "vdicollect.db"
	cfg.Output.ResultPath = "out/result.json"
	cfg.Output.ReportPath = "out/report.json"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Serve.Listen = ":9110"
	cfg.Serve.Interval = 5 * time.Minute
	return &cfg
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error: defaults plus environment overrides are used instead.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// 3. Override with Environment Variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillZero()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VDI_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("VDI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VDI_PORT %q: %w", v, ErrInvalidConfig)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("VDI_USERNAME"); v != "" {
		c.Credentials.Username = v
	}
	if v := os.Getenv("VDI_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}
	if v := os.Getenv("VDI_DOMAIN"); v != "" {
		c.Credentials.Domain = v
	}
	if v := os.Getenv("VDI_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("VDI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// fillZero restores defaults for values a YAML file explicitly zeroed.
func (c *Config) fillZero() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = def.Server.Timeout
	}
	if c.Collect.PageSize <= 0 {
		c.Collect.PageSize = def.Collect.PageSize
	}
	if c.Collect.EnrichWorkers <= 0 {
		c.Collect.EnrichWorkers = def.Collect.EnrichWorkers
	}
	if c.Serve.Interval <= 0 {
		c.Serve.Interval = def.Serve.Interval
	}
}

// Validate reports settings required to reach the connection server.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Server.Host) == "" {
		missing = append(missing, "server.host")
	}
	if c.Credentials.Username == "" {
		missing = append(missing, "credentials.username")
	}
	if c.Credentials.Password == "" {
		missing = append(missing, "credentials.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), ErrInvalidConfig)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range: %w", c.Server.Port, ErrInvalidConfig)
	}
	return nil
}

// BaseURL returns the https endpoint of the connection server.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("https://%s:%d", strings.TrimSpace(c.Server.Host), c.Server.Port)
}
