// Package config loads the YAML configuration shared by the hashrpc server and client.
// The server reads every field; a client uses framing, receiveBufferSize, heartbeat, the etcd
// section and balancer to reach the servers of etcd.service through a Router.
//
//	listen: ":9000"
//	framing: raw
//	receiveBufferSize: 10240
//	maxConns: 1
//	handlerTimeout: 2s
//	rateLimit: {rate: 100, burst: 20, perTarget: true}
//	logLevel: info
//	etcd:
//	  endpoints: ["127.0.0.1:2379"]
//	  service: calc
//	  ttl: 10
//	balancer: round_robin
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"hashrpc/client"
	"hashrpc/dispatch"
	"hashrpc/loadbalance"
	"hashrpc/server"
	"hashrpc/transport"
)

type Config struct {
	Listen            string        `yaml:"listen"`
	Advertise         string        `yaml:"advertise"`
	Framing           string        `yaml:"framing"`
	ReceiveBufferSize int           `yaml:"receiveBufferSize"`
	MaxConns          int           `yaml:"maxConns"`
	MaxObjects        int           `yaml:"maxObjects"`
	HandlerTimeout    time.Duration `yaml:"handlerTimeout"` // 0 disables
	Heartbeat         time.Duration `yaml:"heartbeat"`      // framed only, 0 disables
	RateLimit         RateLimit     `yaml:"rateLimit"`
	LogLevel          string        `yaml:"logLevel"`
	Etcd              Etcd          `yaml:"etcd"`
	Balancer          string        `yaml:"balancer"` // client side: round_robin or weighted_random
}

// RateLimit is one token bucket shared by all connections, or with PerTarget one bucket per
// function and per object. A zero Rate disables it.
type RateLimit struct {
	Rate      float64 `yaml:"rate"`
	Burst     int     `yaml:"burst"`
	PerTarget bool    `yaml:"perTarget"`
}

// Etcd enables discovery when Endpoints is set.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	Service     string        `yaml:"service"`
	TTL         int64         `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

func Default() *Config {
	return &Config{
		Listen:            server.DefaultAddr,
		Framing:           string(transport.FramingRaw),
		ReceiveBufferSize: server.DefaultReceiveBufferSize,
		MaxConns:          server.DefaultMaxConns,
		MaxObjects:        dispatch.DefaultMaxObjects,
		LogLevel:          "info",
		Balancer:          "round_robin",
		Etcd: Etcd{
			Service:     "hashrpc",
			TTL:         server.DefaultServiceTTL,
			DialTimeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(f, cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := transport.ParseFraming(c.Framing); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ReceiveBufferSize <= 0 {
		return fmt.Errorf("config: receiveBufferSize must be positive, got %d", c.ReceiveBufferSize)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("config: maxConns must be positive, got %d", c.MaxConns)
	}
	if c.MaxObjects <= 0 {
		return fmt.Errorf("config: maxObjects must be positive, got %d", c.MaxObjects)
	}
	if c.HandlerTimeout < 0 || c.Heartbeat < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	if c.RateLimit.Rate < 0 || (c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0) {
		return fmt.Errorf("config: rateLimit needs a positive burst, got %+v", c.RateLimit)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.Service == "" {
		return fmt.Errorf("config: etcd.service is required with etcd.endpoints")
	}
	return nil
}

// FramingMode returns the validated framing.
func (c *Config) FramingMode() transport.Framing {
	f, _ := transport.ParseFraming(c.Framing)
	return f
}

// Logger builds a zap logger at LogLevel: development output for debug, production JSON
// otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewBalancer builds the configured load balancing strategy.
func (c *Config) NewBalancer() (loadbalance.Balancer, error) {
	return loadbalance.New(c.Balancer)
}

// ClientOptions returns the client settings. Framing applies to direct dials; a Router dials
// every instance with the framing it published.
func (c *Config) ClientOptions(logger *zap.Logger) []client.Option {
	return []client.Option{
		client.WithLogger(logger),
		client.WithFraming(c.FramingMode()),
		client.WithReceiveBufferSize(c.ReceiveBufferSize),
		client.WithHeartbeat(c.Heartbeat),
	}
}
