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
	"github.com/robfig/cron/v3"
	"github.com/wneessen/go-mail"
	"gopkg.in/yaml.v3"

	"github.com/patrickspencer/hydranotify/internal/hydra"
	"github.com/patrickspencer/hydranotify/internal/logger"
	"github.com/patrickspencer/hydranotify/internal/maintainers"
	"github.com/patrickspencer/hydranotify/internal/notify"
)

// DefaultSystems are the platforms Nixpkgs builds by default.
var DefaultSystems = []string{"x86_64-linux", "aarch64-linux", "x86_64-darwin", "aarch64-darwin"}

// HydraConfig points at the Hydra instance.
type HydraConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

// ParseTimeout parses Timeout into a time.Duration.
// Returns 0 if the timeout is empty.
func (h HydraConfig) ParseTimeout() (time.Duration, error) {
	if h.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(h.Timeout)
}

// IndexConfig locates the Nixpkgs package index.
type IndexConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig locates the status database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MailConfig holds SMTP settings. Mail is disabled when Host is empty.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Subject  string `yaml:"subject"`
}

// Enabled reports whether an SMTP server is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

// Notify converts the section to notifier settings.
func (m MailConfig) Notify() notify.MailConfig {
	return notify.MailConfig{
		Host:     m.Host,
		Port:     m.Port,
		Username: m.Username,
		Password: m.Password,
		From:     m.From,
		To:       m.To,
		Subject:  m.Subject,
	}
}

// DaemonConfig controls the long-running mode.
type DaemonConfig struct {
	Schedule   string `yaml:"schedule"`
	Listen     string `yaml:"listen"`
	RunOnStart *bool  `yaml:"run_on_start"`
}

// ShouldRunOnStart returns whether the daemon checks once before the first
// scheduled tick. Defaults to true when unset.
func (d DaemonConfig) ShouldRunOnStart() bool {
	if d.RunOnStart == nil {
		return true
	}
	return *d.RunOnStart
}

// Config is the top-level configuration parsed from hydranotify.yaml.
type Config struct {
	Hydra     HydraConfig    `yaml:"hydra"`
	Index     IndexConfig    `yaml:"index"`
	Database  DatabaseConfig `yaml:"database"`
	Mail      MailConfig     `yaml:"mail"`
	Watch     WatchConfig    `yaml:"watch"`
	Daemon    DaemonConfig   `yaml:"daemon"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(c *Config) {
	if c.Hydra.URL == "" {
		c.Hydra.URL = hydra.DefaultURL
	}
	c.Hydra.URL = strings.TrimRight(c.Hydra.URL, "/")
	if c.Hydra.UserAgent == "" {
		c.Hydra.UserAgent = hydra.DefaultUserAgent
	}
	if c.Hydra.Timeout == "" {
		c.Hydra.Timeout = "60s"
	}
	if c.Index.URL == "" {
		c.Index.URL = maintainers.DefaultIndexURL
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath()
	}
	c.Database.Path = expandPath(c.Database.Path)
	if c.Mail.Port == 0 {
		c.Mail.Port = 465
	}
	if c.Mail.Subject == "" {
		c.Mail.Subject = notify.DefaultSubject
	}
	if c.Watch.Dir != "" {
		c.Watch.Dir = expandPath(c.Watch.Dir)
	}
	if c.Daemon.Schedule == "" {
		c.Daemon.Schedule = "@hourly"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

func defaultDatabasePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return "./hydranotify.db"
	}
	return filepath.Join(dir, "hydranotify", "state.db")
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") {
		return filepath.Join(home, v[2:])
	}
	return v
}

// LoadConfig reads a YAML configuration file from path and returns
// a Config with defaults applied for any unset fields. Environment
// variables in the file are expanded. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadEnv loads variables from the given .env files into the process
// environment. Missing files are ignored and variables already set win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Hydra.URL, "HYDRANOTIFY_HYDRA_URL")
	str(&c.Hydra.UserAgent, "HYDRANOTIFY_USER_AGENT")
	str(&c.Index.URL, "HYDRANOTIFY_INDEX_URL")
	str(&c.Database.Path, "HYDRANOTIFY_DATABASE_PATH", "DATABASE_PATH")
	str(&c.Mail.Host, "SMTP_HOST")
	str(&c.Mail.Username, "SMTP_USERNAME")
	str(&c.Mail.Password, "SMTP_PASSWORD")
	str(&c.Mail.From, "SMTP_FROM")
	str(&c.Mail.To, "SMTP_TO")
	str(&c.Daemon.Schedule, "HYDRANOTIFY_SCHEDULE")
	str(&c.Daemon.Listen, "HYDRANOTIFY_LISTEN")
	str(&c.LogLevel, "HYDRANOTIFY_LOG_LEVEL")
	str(&c.LogFormat, "HYDRANOTIFY_LOG_FORMAT")

	if v, ok := lookup("SMTP_PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Mail.Port = port
		}
	}
}

// Validate checks the configuration before anything touches the network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "console", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := c.Hydra.ParseTimeout(); err != nil {
		return fmt.Errorf("hydra.timeout: %w", err)
	}
	if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
		return fmt.Errorf("daemon.schedule %q: %w", c.Daemon.Schedule, err)
	}

	if c.Mail.Enabled() {
		if c.Mail.Port < 1 || c.Mail.Port > 65535 {
			return fmt.Errorf("mail.port %d out of range", c.Mail.Port)
		}
		msg := mail.NewMsg()
		if err := msg.From(c.Mail.From); err != nil {
			return fmt.Errorf("mail.from %q: %w", c.Mail.From, err)
		}
		if err := msg.To(c.Mail.To); err != nil {
			return fmt.Errorf("mail.to %q: %w", c.Mail.To, err)
		}
	}
	return nil
}
