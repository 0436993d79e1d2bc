// Package config loads the server configuration: a YAML file, then a .env
// file, then SMARTAPP_RPC_* environment variables, each layer overriding
// the previous one.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"smartapp-rpc/codec"
	"smartapp-rpc/loadbalance"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SMARTAPP_RPC_"

type Config struct {
	AppName   string          `yaml:"app_name"`
	Listen    string          `yaml:"listen"`
	Advertise string          `yaml:"advertise"`
	Codec     string          `yaml:"codec"`
	Balancer  string          `yaml:"balancer"`
	Log       LogConfig       `yaml:"log"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// EtcdConfig enables etcd discovery when Endpoints is not empty.
type EtcdConfig struct {
	Endpoints  []string `yaml:"endpoints"`
	TTLSeconds int64    `yaml:"ttl_seconds"`
}

// RateLimitConfig is the per-chat limit. RPS 0 disables it.
type RateLimitConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// MetricsConfig enables the /metrics endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func Default() *Config {
	return &Config{
		AppName:  "smartapp-rpc",
		Listen:   ":8800",
		Codec:    "json",
		Balancer: "round_robin",
		Log:      LogConfig{Level: "info"},
		Etcd:     EtcdConfig{TTLSeconds: 10},
		RateLimit: RateLimitConfig{
			IdleTTL: 10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path, if path is not empty, then applies
// ".env" from the working directory and the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit .env file. A missing env file is
// not an error. Process environment variables win over the env file.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		if perr := set(strings.TrimSpace(v)); perr != nil {
			err = multierr.Append(err, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, perr))
		}
	}

	str("APP_NAME", &c.AppName)
	str("LISTEN", &c.Listen)
	str("ADVERTISE", &c.Advertise)
	str("CODEC", &c.Codec)
	str("BALANCER", &c.Balancer)
	str("LOG_LEVEL", &c.Log.Level)
	parse("LOG_DEVELOPMENT", func(v string) (perr error) {
		c.Log.Development, perr = strconv.ParseBool(v)
		return perr
	})
	parse("ETCD_ENDPOINTS", func(v string) error {
		c.Etcd.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Etcd.Endpoints = append(c.Etcd.Endpoints, ep)
			}
		}
		return nil
	})
	parse("ETCD_TTL_SECONDS", func(v string) (perr error) {
		c.Etcd.TTLSeconds, perr = strconv.ParseInt(v, 10, 64)
		return perr
	})
	parse("RATE_LIMIT_RPS", func(v string) (perr error) {
		c.RateLimit.RPS, perr = strconv.ParseFloat(v, 64)
		return perr
	})
	parse("RATE_LIMIT_BURST", func(v string) (perr error) {
		c.RateLimit.Burst, perr = strconv.Atoi(v)
		return perr
	})
	parse("RATE_LIMIT_IDLE_TTL", func(v string) (perr error) {
		c.RateLimit.IdleTTL, perr = time.ParseDuration(v)
		return perr
	})
	str("METRICS_LISTEN", &c.Metrics.Listen)
	return err
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.AppName == "" {
		err = multierr.Append(err, errors.New("config: app_name is empty"))
	}
	if c.Listen == "" {
		err = multierr.Append(err, errors.New("config: listen is empty"))
	}
	if _, cerr := codec.ParseCodecType(c.Codec); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("config: %w", cerr))
	}
	if _, berr := loadbalance.New(c.Balancer); berr != nil {
		err = multierr.Append(err, fmt.Errorf("config: %w", berr))
	}
	if _, lerr := zapcore.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("config: log.level: %w", lerr))
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.TTLSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("config: etcd.ttl_seconds must be positive, got %d", c.Etcd.TTLSeconds))
	}
	if c.RateLimit.RPS < 0 {
		err = multierr.Append(err, fmt.Errorf("config: rate_limit.rps must not be negative, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		err = multierr.Append(err, errors.New("config: rate_limit.burst must be positive when rate_limit.rps is set"))
	}
	if c.RateLimit.IdleTTL < 0 {
		err = multierr.Append(err, errors.New("config: rate_limit.idle_ttl must not be negative"))
	}
	return err
}

// CodecType returns the parsed codec. Call Validate first.
func (c *Config) CodecType() codec.CodecType {
	ct, _ := codec.ParseCodecType(c.Codec)
	return ct
}
