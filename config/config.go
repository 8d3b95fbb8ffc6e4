package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Auth       AuthConfig       `yaml:"auth"`
	Booking    BookingConfig    `yaml:"booking"`
	Channel    ChannelConfig    `yaml:"channel"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`

	CacheTTL time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// BookingConfig tunes the capacity ledger critical section.
type BookingConfig struct {
	LockTimeoutMS int `yaml:"lock_timeout_ms"`
	BusyRetries   int `yaml:"busy_retries"`
	BusyBackoffMS int `yaml:"busy_backoff_ms"`

	LockTimeout time.Duration `yaml:"-"`
	BusyBackoff time.Duration `yaml:"-"`
}

// ChannelConfig holds push channel settings shared by the hub and the client.
type ChannelConfig struct {
	HeartbeatSeconds     int `yaml:"heartbeat_seconds"`
	ReconnectBaseMS      int `yaml:"reconnect_base_ms"`
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
	SendBuffer           int `yaml:"send_buffer"`

	Heartbeat     time.Duration `yaml:"-"`
	ReconnectBase time.Duration `yaml:"-"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 20
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Booking.LockTimeoutMS <= 0 {
		cfg.Booking.LockTimeoutMS = 2000
	}
	cfg.Booking.LockTimeout = time.Duration(cfg.Booking.LockTimeoutMS) * time.Millisecond
	if cfg.Booking.BusyRetries < 0 {
		cfg.Booking.BusyRetries = 0
	}
	if cfg.Booking.BusyBackoffMS <= 0 {
		cfg.Booking.BusyBackoffMS = 50
	}
	cfg.Booking.BusyBackoff = time.Duration(cfg.Booking.BusyBackoffMS) * time.Millisecond

	if cfg.Channel.HeartbeatSeconds <= 0 {
		cfg.Channel.HeartbeatSeconds = 30
	}
	cfg.Channel.Heartbeat = time.Duration(cfg.Channel.HeartbeatSeconds) * time.Second
	if cfg.Channel.ReconnectBaseMS <= 0 {
		cfg.Channel.ReconnectBaseMS = 1000
	}
	cfg.Channel.ReconnectBase = time.Duration(cfg.Channel.ReconnectBaseMS) * time.Millisecond
	if cfg.Channel.ReconnectMaxAttempts <= 0 {
		cfg.Channel.ReconnectMaxAttempts = 5
	}
	if cfg.Channel.SendBuffer <= 0 {
		cfg.Channel.SendBuffer = 64
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
