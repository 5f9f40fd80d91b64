package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"peerd/pkg/bird"
	"peerd/pkg/model"
)

// Defaults.
const (
	DefaultConfigPath     = "/etc/peerd/peerd.toml"
	DefaultGeneratedConf  = "/etc/bird/peerd.conf"
	DefaultControlSock    = "/run/bird/bird.ctl"
	DefaultControlTimeout = 10 * time.Second
	DefaultAPIAddr        = "127.0.0.1:7070"
	DefaultJournalPath    = "/var/lib/peerd/journal.db"
	DefaultConsulPrefix   = "peerd/zones/"
	DefaultPollInterval   = 30 * time.Second
)

// Duration is a time.Duration that (un)marshals as a Go duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Log       Log                `toml:"log"`
	Bird      *Bird              `toml:"bird,omitempty"`
	Zones     []model.ZoneConfig `toml:"zones"`
	Discovery Discovery          `toml:"discovery"`
	Consul    Consul             `toml:"consul"`
	MySQL     MySQL              `toml:"mysql"`
	Tunnel    Tunnel             `toml:"tunnel"`
	Journal   Journal            `toml:"journal"`
	API       API                `toml:"api"`
}

type Log struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"` // json|console
}

// Bird enables BIRD integration. Its absence disables route synchronization.
type Bird struct {
	GeneratedConf  string   `toml:"generated_conf,omitempty"`
	ControlSock    string   `toml:"control_sock,omitempty"`
	DoReconfigure  bool     `toml:"do_reconfigure,omitempty"`
	ControlTimeout Duration `toml:"control_timeout,omitempty"`
	RetryDelay     Duration `toml:"retry_delay,omitempty"`
	MaxRetries     uint32   `toml:"max_retries,omitempty"`
	Strict         bool     `toml:"strict,omitempty"`
}

type Discovery struct {
	Backend  string   `toml:"backend,omitempty"` // memory|consul|mysql
	Interval Duration `toml:"interval,omitempty"`
}

type Consul struct {
	Addr   string `toml:"addr,omitempty"`
	Token  string `toml:"token,omitempty"`
	Prefix string `toml:"prefix,omitempty"`
}

type MySQL struct {
	DSN string `toml:"dsn,omitempty"`
}

type Tunnel struct {
	PollInterval Duration `toml:"poll_interval,omitempty"`
}

type Journal struct {
	Path string `toml:"path,omitempty"`
}

type API struct {
	Addr              string `toml:"addr,omitempty"`
	Token             string `toml:"token,omitempty"`
	JWTSecret         string `toml:"jwt_secret,omitempty"`
	AdminUser         string `toml:"admin_user,omitempty"`
	AdminPasswordHash string `toml:"admin_password_hash,omitempty"`
	TLSCert           string `toml:"tls_cert,omitempty"`
	TLSKey            string `toml:"tls_key,omitempty"`
	ClientCA          string `toml:"client_ca,omitempty"` // enables mutual TLS
}

// InitDefaults fills unset values.
func (c *Config) InitDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if b := c.Bird; b != nil {
		if b.GeneratedConf == "" {
			b.GeneratedConf = DefaultGeneratedConf
		}
		if b.ControlSock == "" {
			b.ControlSock = DefaultControlSock
		}
		if b.ControlTimeout.Duration == 0 {
			b.ControlTimeout.Duration = DefaultControlTimeout
		}
		if b.RetryDelay.Duration == 0 {
			b.RetryDelay.Duration = bird.DefaultRetryDelay
		}
	}
	if c.Discovery.Backend == "" {
		c.Discovery.Backend = "memory"
	}
	if c.Discovery.Interval.Duration == 0 {
		c.Discovery.Interval.Duration = DefaultPollInterval
	}
	if c.Consul.Prefix == "" {
		c.Consul.Prefix = DefaultConsulPrefix
	}
	if c.Tunnel.PollInterval.Duration == 0 {
		c.Tunnel.PollInterval.Duration = 5 * time.Second
	}
	if c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
}

// Validate checks the config for inconsistencies.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Zones))
	for i, z := range c.Zones {
		if z.Name == "" {
			return fmt.Errorf("zones[%d]: name is required", i)
		}
		if seen[z.Name] {
			return fmt.Errorf("zones[%d]: duplicate zone %q", i, z.Name)
		}
		seen[z.Name] = true
		if z.Bird != nil && z.Bird.BGPTemplate == "" {
			return fmt.Errorf("zone %s: bird.bgp_template is required", z.Name)
		}
	}
	switch c.Discovery.Backend {
	case "memory", "consul", "mysql":
	default:
		return fmt.Errorf("discovery.backend: unsupported backend %q", c.Discovery.Backend)
	}
	if c.API.AdminUser != "" && c.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required when api.admin_user is set")
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return fmt.Errorf("api.tls_cert and api.tls_key must be set together")
	}
	if c.API.ClientCA != "" && c.API.TLSCert == "" {
		return fmt.Errorf("api.client_ca requires api.tls_cert")
	}
	durations := map[string]Duration{
		"discovery.interval":   c.Discovery.Interval,
		"tunnel.poll_interval": c.Tunnel.PollInterval,
	}
	if c.Bird != nil {
		durations["bird.control_timeout"] = c.Bird.ControlTimeout
		durations["bird.retry_delay"] = c.Bird.RetryDelay
	}
	for name, d := range durations {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration)
		}
	}
	return nil
}

// BirdOptions converts the bird section for the updater; nil when disabled.
func (c *Config) BirdOptions() *bird.Options {
	if c.Bird == nil {
		return nil
	}
	return &bird.Options{
		GeneratedConf:  c.Bird.GeneratedConf,
		ControlSock:    c.Bird.ControlSock,
		DoReconfigure:  c.Bird.DoReconfigure,
		ControlTimeout: c.Bird.ControlTimeout.Duration,
		Strict:         c.Bird.Strict,
	}
}

// Parse decodes, defaults and validates a TOML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path, after loading .env from the working directory if present.
func Load(path string) (*Config, error) {
	_ = loadDotEnv()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// applyEnv lets secrets and endpoints come from the environment.
func (c *Config) applyEnv() {
	setenv(&c.Consul.Addr, "CONSUL_HTTP_ADDR")
	setenv(&c.Consul.Token, "CONSUL_HTTP_TOKEN")
	setenv(&c.MySQL.DSN, "MYSQL_DSN")
	setenv(&c.API.Token, "PEERD_API_TOKEN")
	setenv(&c.API.JWTSecret, "PEERD_JWT_SECRET")
	if v := os.Getenv("PEERD_BIRD_RECONFIGURE"); v != "" && c.Bird != nil {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Bird.DoReconfigure = b
		}
	}
}

func setenv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Provider holds the current configuration and swaps it on Reload.
type Provider struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewProvider loads path once.
func NewProvider(path string) (*Provider, error) {
	p := &Provider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps an already parsed config.
func NewStaticProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.cur.Store(cfg)
	return p
}

// Reload re-reads the file. The previous config stays active on error.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	p.cur.Store(cfg)
	return nil
}

// Get returns the current config.
func (p *Provider) Get() *Config {
	return p.cur.Load()
}

// BirdOptions is a bird.OptionsFunc over the current config.
func (p *Provider) BirdOptions() *bird.Options {
	return p.Get().BirdOptions()
}
