package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/courierhq/courier/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Worker    WorkerConfig    `yaml:"worker"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Providers ProvidersConfig `yaml:"providers"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SweeperConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Interval          string `yaml:"interval"`
	LatenessThreshold string `yaml:"lateness_threshold"`
}

type WorkerConfig struct {
	Concurrency    int     `yaml:"concurrency"`
	PollInterval   string  `yaml:"poll_interval"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
	PublishTimeout string  `yaml:"publish_timeout"`
}

type PlatformsConfig struct {
	Twitter  PlatformConfig `yaml:"twitter"`
	LinkedIn PlatformConfig `yaml:"linkedin"`
	Mastodon PlatformConfig `yaml:"mastodon"`
}

type PlatformConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type ProvidersConfig struct {
	// Order determines fallback preference, first entry tried first.
	Order     []string       `yaml:"order"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Stability ProviderConfig `yaml:"stability"`
}

type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5335
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Sweeper.Interval == "" {
		cfg.Sweeper.Interval = "1m"
	}
	if cfg.Sweeper.LatenessThreshold == "" {
		cfg.Sweeper.LatenessThreshold = "60m"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.PollInterval == "" {
		cfg.Worker.PollInterval = "2s"
	}
	if cfg.Worker.RatePerSecond == 0 {
		cfg.Worker.RatePerSecond = 2
	}
	if cfg.Worker.RateBurst == 0 {
		cfg.Worker.RateBurst = 5
	}
	if cfg.Worker.PublishTimeout == "" {
		cfg.Worker.PublishTimeout = "30s"
	}
	if len(cfg.Providers.Order) == 0 {
		cfg.Providers.Order = []string{"openai", "stability"}
	}

	return cfg, nil
}
