package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"cryptofx/pkg/config"
)

const defaultDialTimeout = 5 * time.Second

// Mode selects the Redis deployment topology.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeSentinel Mode = "sentinel"
	ModeCluster  Mode = "cluster"
)

// Config configures a topology-agnostic Redis connection.
type Config struct {
	Mode         Mode
	Addrs        []string // single: 1 addr, sentinel: sentinel addrs, cluster: seed nodes
	MasterName   string   // sentinel only
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dial builds a Redis client for single-node, Sentinel, or Cluster
// topologies without contacting the server. go-redis routes internally:
// MasterName set → Sentinel, multiple Addrs → Cluster, single Addr →
// standalone.
func Dial(cfg Config) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one redis address is required")
	}
	if cfg.Mode == ModeSentinel && cfg.MasterName == "" {
		return nil, fmt.Errorf("sentinel mode requires a master name")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultDialTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultDialTimeout
	}

	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}), nil
}

// NewUniversalClient dials and pings. The client is closed when the ping
// fails.
func NewUniversalClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	client, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ConfigFromEnv reads REDIS_MODE, REDIS_ADDRS (or REDIS_URL), REDIS_MASTER,
// REDIS_USERNAME, REDIS_PASSWORD and REDIS_DB. A REDIS_URL is parsed for its
// address, credentials and database when REDIS_ADDRS is unset.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:       Mode(config.GetEnv("REDIS_MODE", string(ModeSingle))),
		Addrs:      config.GetEnvList("REDIS_ADDRS", nil),
		MasterName: config.GetEnv("REDIS_MASTER", ""),
		Username:   config.GetEnv("REDIS_USERNAME", ""),
		Password:   config.GetEnv("REDIS_PASSWORD", ""),
		DB:         config.GetEnvInt("REDIS_DB", 0),
	}
	if len(cfg.Addrs) > 0 {
		return cfg, nil
	}

	url := config.GetEnv("REDIS_URL", "redis://localhost:6379")
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return Config{}, fmt.Errorf("parse redis url: %w", err)
	}
	cfg.Addrs = []string{opts.Addr}
	if cfg.Username == "" {
		cfg.Username = opts.Username
	}
	if cfg.Password == "" {
		cfg.Password = opts.Password
	}
	if cfg.DB == 0 {
		cfg.DB = opts.DB
	}
	return cfg, nil
}
