package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Daemon    DaemonConfig     `yaml:"daemon" json:"daemon"`
	Storage   StorageConfig    `yaml:"storage" json:"storage"`
	Pages     PagesConfig      `yaml:"pages" json:"pages"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Metrics   MetricsConfig    `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Feed      FeedConfig       `yaml:"feed,omitempty" json:"feed,omitempty"`
}

type ServerConfig struct {
	Listen          string         `yaml:"listen" json:"listen"`
	HTTP2           bool           `yaml:"http2" json:"http2"`
	HotReload       bool           `yaml:"hot_reload" json:"hot_reload"`
	ReadTimeout     time.Duration  `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration  `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CORS            *CORSConfig    `yaml:"cors,omitempty" json:"cors,omitempty"`
	Headers         *HeadersConfig `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// HeadersConfig adds or strips response headers on every route.
type HeadersConfig struct {
	Add    map[string]string `yaml:"add" json:"add"`
	Remove []string          `yaml:"remove" json:"remove"`
}

// DaemonConfig describes the datagram side. The web front sends to Listen,
// the storage daemon binds it.
type DaemonConfig struct {
	Listen          string `yaml:"listen" json:"listen"`
	MaxDatagramSize int    `yaml:"max_datagram_size" json:"max_datagram_size"`
}

type StorageConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PagesConfig names the fixed documents. Home, Message and Error are
// relative to Root, which is also the root for static files.
type PagesConfig struct {
	Root    string `yaml:"root" json:"root"`
	Home    string `yaml:"home" json:"home"`
	Message string `yaml:"message" json:"message"`
	Error   string `yaml:"error" json:"error"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int  `yaml:"burst" json:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type FeedConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

const (
	DefaultHTTPListen      = "0.0.0.0:3000"
	DefaultDaemonListen    = "127.0.0.1:5000"
	DefaultMaxDatagramSize = 1024
	DefaultStoragePath     = "storage/data.json"
)

// Default returns the configuration the server runs with when no file is
// given: HTTP on port 3000 on every interface, datagrams on 127.0.0.1:5000,
// documents and static files from the working directory.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}
