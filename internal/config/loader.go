package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxUDPPayload is the largest payload a single IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// Load reads a YAML or JSON configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(path, data)
}

// Parse decodes raw configuration bytes. The path is only used to detect the
// format: ".json" selects JSON, anything else YAML.
func Parse(path string, data []byte) (*Config, error) {
	// Replace environment variables
	dataStr := os.ExpandEnv(string(data))

	var cfg Config
	var err error
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal([]byte(dataStr), &cfg)
	} else {
		err = yaml.Unmarshal([]byte(dataStr), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultHTTPListen
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}

	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = DefaultDaemonListen
	}

	if cfg.Daemon.MaxDatagramSize == 0 {
		cfg.Daemon.MaxDatagramSize = DefaultMaxDatagramSize
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.Pages.Root == "" {
		cfg.Pages.Root = "."
	}

	if cfg.Pages.Home == "" {
		cfg.Pages.Home = "index.html"
	}

	if cfg.Pages.Message == "" {
		cfg.Pages.Message = "message.html"
	}

	if cfg.Pages.Error == "" {
		cfg.Pages.Error = "error.html"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/_board/metrics"
	}

	if cfg.Feed.Path == "" {
		cfg.Feed.Path = "/_board/feed"
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond
	}
}

func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server listen address %q: %v", cfg.Server.Listen, err)
	}

	if _, _, err := net.SplitHostPort(cfg.Daemon.Listen); err != nil {
		return fmt.Errorf("invalid daemon listen address %q: %v", cfg.Daemon.Listen, err)
	}

	if cfg.Daemon.MaxDatagramSize < 0 || cfg.Daemon.MaxDatagramSize > maxUDPPayload {
		return fmt.Errorf("max_datagram_size must be between 1 and %d", maxUDPPayload)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format %s", cfg.Logging.Format)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level %s", cfg.Logging.Level)
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}

	reserved := map[string]bool{"/": true, "/message": true}
	for name, p := range map[string]string{"metrics": cfg.Metrics.Path, "feed": cfg.Feed.Path} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s path must start with /", name)
		}
		if reserved[p] {
			return fmt.Errorf("%s path %s collides with a page route", name, p)
		}
	}

	if cfg.Metrics.Path == cfg.Feed.Path {
		return fmt.Errorf("metrics and feed paths must differ")
	}

	return nil
}
