package clients

import (
	"net"
	"net/http"
	"time"

	"cryptofx/pkg/config"
)

// TransportConfig sizes the connection pool used for market data providers.
// Each provider is a single host, so the per-host caps are the real limits.
type TransportConfig struct {
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultTransportConfig returns limits sized for a handful of public
// market data APIs.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxConnsPerHost:     16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// TransportConfigFromEnv overrides the defaults from UPSTREAM_* variables.
func TransportConfigFromEnv() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.MaxConnsPerHost = config.GetEnvInt("UPSTREAM_MAX_CONNS_PER_HOST", cfg.MaxConnsPerHost)
	cfg.MaxIdleConnsPerHost = config.GetEnvInt("UPSTREAM_MAX_IDLE_CONNS_PER_HOST", cfg.MaxIdleConnsPerHost)
	cfg.IdleConnTimeout = config.GetEnvDuration("UPSTREAM_IDLE_CONN_TIMEOUT", cfg.IdleConnTimeout)
	cfg.DialTimeout = config.GetEnvDuration("UPSTREAM_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.TLSHandshakeTimeout = config.GetEnvDuration("UPSTREAM_TLS_TIMEOUT", cfg.TLSHandshakeTimeout)
	return cfg
}

// NewTransport returns a transport with capped per-host connections, so a
// stalled provider queues requests instead of opening unbounded sockets.
func NewTransport(cfg TransportConfig) *http.Transport {
	def := DefaultTransportConfig()
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.MaxIdleConnsPerHost <= 0 || cfg.MaxIdleConnsPerHost > cfg.MaxConnsPerHost {
		cfg.MaxIdleConnsPerHost = min(def.MaxIdleConnsPerHost, cfg.MaxConnsPerHost)
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxIdleConns:        cfg.MaxIdleConnsPerHost * 4,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// NewHTTPClient returns a client over NewTransport(cfg) with the given
// overall request timeout.
func NewHTTPClient(timeout time.Duration, cfg TransportConfig) *http.Client {
	return &http.Client{
		Transport: NewTransport(cfg),
		Timeout:   timeout,
	}
}
