package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Storage         StorageConfig         `yaml:"storage"`
	Printers        PrintersConfig        `yaml:"printers"`
	Queue           QueueConfig           `yaml:"queue"`
	Receipt         ReceiptConfig         `yaml:"receipt"`
	Webhooks        []WebhookConfig       `yaml:"webhooks"`
	WebhookDelivery WebhookDeliveryConfig `yaml:"webhook_delivery"`
	Auth            AuthConfig            `yaml:"auth"`
	Logging         LoggingConfig         `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Driver is "file" (JSON snapshot) or "sqlite".
	Driver     string `yaml:"driver"`
	StateDir   string `yaml:"state_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type PrintersConfig struct {
	ConnectionTimeout   time.Duration   `yaml:"connection_timeout"`
	HealthCheckInterval time.Duration   `yaml:"health_check_interval"`
	Devices             []PrinterConfig `yaml:"devices"`
}

const (
	PrinterTypeNetwork = "network"
	PrinterTypeSerial  = "serial"
	PrinterTypeFile    = "file"
)

type PrinterConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Address is host or host:port for network printers.
	Address  string `yaml:"address"`
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	Dir      string `yaml:"dir"`
}

type QueueConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`
	CopyDelay      time.Duration `yaml:"copy_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	HistorySize    int           `yaml:"history_size"`
	ListLimit      int           `yaml:"list_limit"`
	MaxCopies      int           `yaml:"max_copies"`
	StartPaused    bool          `yaml:"start_paused"`
}

type ReceiptConfig struct {
	CodePage      string   `yaml:"code_page"`
	Timezone      string   `yaml:"timezone"`
	StoreName     string   `yaml:"store_name"`
	StoreAddress  []string `yaml:"store_address"`
	StorePhone    string   `yaml:"store_phone"`
	StoreDocument string   `yaml:"store_document"`
	FooterMessage string   `yaml:"footer_message"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type WebhookDeliveryConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// AdminPasswordHash is a bcrypt hash.
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   "file",
			StateDir: "./data",
		},
		Printers: PrintersConfig{
			ConnectionTimeout:   10 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:     3,
			RetryDelay:     2 * time.Second,
			MaxRetryDelay:  30 * time.Second,
			CopyDelay:      500 * time.Millisecond,
			AttemptTimeout: 30 * time.Second,
			HistorySize:    50,
			ListLimit:      20,
			MaxCopies:      10,
		},
		Receipt: ReceiptConfig{
			CodePage: "cp850",
			Timezone: "America/Sao_Paulo",
		},
		WebhookDelivery: WebhookDeliveryConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := Defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from RECEIPTD_* variables. Malformed numbers and
// durations are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RECEIPTD_HOST"); v != "" {
		c.Server.Host = v
	}

	if v := os.Getenv("RECEIPTD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("RECEIPTD_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}

	if v := os.Getenv("RECEIPTD_STATE_DIR"); v != "" {
		c.Storage.StateDir = v
	}

	if v := os.Getenv("RECEIPTD_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}

	if v := os.Getenv("RECEIPTD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.MaxRetries = n
		}
	}

	if v := os.Getenv("RECEIPTD_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Queue.RetryDelay = d
		}
	}

	if v := os.Getenv("RECEIPTD_CODE_PAGE"); v != "" {
		c.Receipt.CodePage = v
	}

	if v := os.Getenv("RECEIPTD_TIMEZONE"); v != "" {
		c.Receipt.Timezone = v
	}

	if v := os.Getenv("RECEIPTD_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = b
		}
	}

	if v := os.Getenv("RECEIPTD_ADMIN_PASSWORD_HASH"); v != "" {
		c.Auth.AdminPasswordHash = v
	}

	if v := os.Getenv("RECEIPTD_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := os.Getenv("RECEIPTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("RECEIPTD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// SnapshotPath is where the file driver keeps the queue snapshot.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Storage.StateDir, "queue.json")
}

func (c *Config) DatabasePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Storage.StateDir, "receiptd.db")
}

func (c *Config) Location() (*time.Location, error) {
	if c.Receipt.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Receipt.Timezone)
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: file, sqlite)", c.Storage.Driver)
	}

	if c.Storage.StateDir == "" {
		return fmt.Errorf("storage state_dir is required")
	}

	if c.Printers.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	if c.Printers.HealthCheckInterval < 0 {
		return fmt.Errorf("health check interval must be non-negative")
	}

	if err := c.validatePrinters(); err != nil {
		return err
	}

	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}

	if c.Queue.RetryDelay < 0 || c.Queue.MaxRetryDelay < 0 || c.Queue.CopyDelay < 0 {
		return fmt.Errorf("queue delays must be non-negative")
	}

	if c.Queue.MaxRetryDelay < c.Queue.RetryDelay {
		return fmt.Errorf("max retry delay (%s) must not be below retry delay (%s)", c.Queue.MaxRetryDelay, c.Queue.RetryDelay)
	}

	if c.Queue.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}

	if c.Queue.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1")
	}

	if c.Queue.ListLimit < 1 || c.Queue.ListLimit > c.Queue.HistorySize {
		return fmt.Errorf("list limit must be between 1 and history size (%d), got %d", c.Queue.HistorySize, c.Queue.ListLimit)
	}

	if c.Queue.MaxCopies < 1 {
		return fmt.Errorf("max copies must be at least 1")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid receipt timezone %q: %w", c.Receipt.Timezone, err)
	}

	for i, w := range c.Webhooks {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %d: url must be an absolute http(s) URL", i+1)
		}
		for _, ev := range w.Events {
			if !validEvents[ev] {
				return fmt.Errorf("webhook %d: unknown event %q", i+1, ev)
			}
		}
	}

	if c.Auth.Enabled && c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("auth is enabled but admin_password_hash is empty")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}

var validEvents = map[string]bool{
	"job_completed": true,
	"job_failed":    true,
	"job_retrying":  true,
}

func (c *Config) validatePrinters() error {
	seen := make(map[string]bool, len(c.Printers.Devices))
	for i, p := range c.Printers.Devices {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("printer %d: name is required", i+1)
		}
		if seen[name] {
			return fmt.Errorf("printer %q is defined more than once", name)
		}
		seen[name] = true

		switch p.Type {
		case PrinterTypeNetwork:
			if p.Address == "" {
				return fmt.Errorf("printer %q: network printers need an address", name)
			}
		case PrinterTypeSerial:
			if p.Device == "" {
				return fmt.Errorf("printer %q: serial printers need a device", name)
			}
			if p.BaudRate < 0 {
				return fmt.Errorf("printer %q: baud rate must be non-negative", name)
			}
		case PrinterTypeFile:
			if p.Dir == "" {
				return fmt.Errorf("printer %q: file printers need a dir", name)
			}
		default:
			return fmt.Errorf("printer %q: invalid type %q (valid: network, serial, file)", name, p.Type)
		}
	}
	return nil
}
