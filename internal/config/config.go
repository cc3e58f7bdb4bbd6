package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix     = "FIVESTEPS_"
	PathEnvVar    = EnvPrefix + "CONFIG"
	DefaultPath   = "config.yaml"
	minSecretSize = 16
)

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Geo      GeoConfig      `koanf:"geo"`
	Log      LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	FrontendOrigins []string      `koanf:"frontend_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type AuthConfig struct {
	Secret          string        `koanf:"secret"`
	TokenTTL        time.Duration `koanf:"token_ttl"`
	LoginRatePerSec float64       `koanf:"login_rate_per_sec"`
	LoginBurst      int           `koanf:"login_burst"`
}

type GeoConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			FrontendOrigins: []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:        24 * time.Hour,
			LoginRatePerSec: 1,
			LoginBurst:      5,
		},
		Geo: GeoConfig{
			BaseURL: "https://api.postcodes.io",
			Timeout: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers struct defaults, an optional YAML file and FIVESTEPS_*
// environment variables, in that order of precedence.
func Load() (Config, error) {
	cfg, err := load(os.Getenv(PathEnvVar))
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDatabase is Load for tools that only talk to PostgreSQL.
func LoadDatabase() (DatabaseConfig, error) {
	cfg, err := load(os.Getenv(PathEnvVar))
	if err != nil {
		return DatabaseConfig{}, err
	}
	if cfg.Database.DSN == "" {
		return DatabaseConfig{}, errors.New("database.dsn is required")
	}
	return cfg.Database, nil
}

func load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	for _, path := range []string{"http.frontend_origins", "http.trusted_proxies"} {
		if err := splitList(k, path); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKey maps FIVESTEPS_DATABASE_MAX_OPEN_CONNS to database.max_open_conns.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return k.Set(path, out)
}

func (c Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	} else if len(c.Auth.Secret) < minSecretSize {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", minSecretSize))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.LoginRatePerSec <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("auth login rate and burst must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := c.HTTP.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProxyPrefixes parses http.trusted_proxies. Bare addresses become
// single-host prefixes.
func (h HTTPConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %q is not an address or CIDR", raw)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}
