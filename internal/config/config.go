package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Scrape  ScrapeConfig
	Sources SourcesConfig
	Notify  NotifyConfig
	DB      DatabaseConfig
	Logging LoggingConfig
	Admin   AdminConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type ScrapeConfig struct {
	// Interval between scheduled scrape cycles.
	Interval time.Duration
	// AdapterTimeout bounds each source fetch within a cycle.
	AdapterTimeout time.Duration
	// SearchDeadline bounds the whole synchronous city search.
	SearchDeadline time.Duration
}

type SourceConfig struct {
	Enabled bool
	URL     string
}

type SourcesConfig struct {
	NDMA   SourceConfig
	IMD    SourceConfig
	SACHET SourceConfig
	ISRO   SourceConfig
}

type NotifyConfig struct {
	Workers         int
	BufferSize      int
	DeliveryTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

type AdminConfig struct {
	// Token guards the admin mutation endpoints. Empty disables them.
	Token string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Scrape: ScrapeConfig{
			Interval:       getEnvDuration("SCRAPE_INTERVAL", 15*time.Minute),
			AdapterTimeout: getEnvDuration("ADAPTER_TIMEOUT", 15*time.Second),
			SearchDeadline: getEnvDuration("SEARCH_DEADLINE", 10*time.Second),
		},
		Sources: SourcesConfig{
			NDMA: SourceConfig{
				Enabled: getEnvBool("NDMA_ENABLED", true),
				URL:     getEnv("NDMA_URL", "https://ndma.gov.in/api/alerts"),
			},
			IMD: SourceConfig{
				Enabled: getEnvBool("IMD_ENABLED", true),
				URL:     getEnv("IMD_URL", "https://mausam.imd.gov.in/imd_latest/contents/rss_district_warning.xml"),
			},
			SACHET: SourceConfig{
				Enabled: getEnvBool("SACHET_ENABLED", true),
				URL:     getEnv("SACHET_URL", "https://sachet.ndma.gov.in/cap_public_website/rss/rss_india.xml"),
			},
			ISRO: SourceConfig{
				Enabled: getEnvBool("ISRO_ENABLED", true),
				URL:     getEnv("ISRO_URL", "https://bhuvan-app1.nrsc.gov.in/disaster/disaster.php?format=json"),
			},
		},
		Notify: NotifyConfig{
			Workers:         getEnvInt("NOTIFY_WORKERS", 4),
			BufferSize:      getEnvInt("NOTIFY_BUFFER_SIZE", 100),
			DeliveryTimeout: getEnvDuration("NOTIFY_DELIVERY_TIMEOUT", 10*time.Second),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/beacon-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Scrape.Interval < time.Minute {
		return fmt.Errorf("scrape interval must be at least 1 minute")
	}
	if c.Scrape.AdapterTimeout < time.Second {
		return fmt.Errorf("adapter timeout must be at least 1 second")
	}
	if c.Scrape.SearchDeadline < time.Second {
		return fmt.Errorf("search deadline must be at least 1 second")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("notify workers must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
