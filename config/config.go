// Package config loads launcher settings from defaults, an optional YAML
// file and VANYLA_* environment variables, in that order.
package config

import (
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/balance"
	"github.com/vanylaplus/go-launcher/cooldown"
	"github.com/xhit/go-str2duration/v2"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "VANYLA_"

var ErrConfigNotFound = errors.New("config file not found")

// Duration accepts human durations such as "30s", "1h30m" or "1d".
type Duration time.Duration

func ParseDuration(s string) (Duration, error) {
	d, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

// UnmarshalText is used for environment variables.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

type Config struct {
	APIURL          string   `yaml:"api_url" env:"API_URL"`
	AssetsURL       string   `yaml:"assets_url" env:"ASSETS_URL"`
	PollingInterval Duration `yaml:"polling_interval" env:"POLLING_INTERVAL"`
	CacheExpiry     Duration `yaml:"cache_expiry" env:"CACHE_EXPIRY"`
	MaxRetries      int      `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay      Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	RequestTimeout  Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	BreakerFailures int      `yaml:"breaker_failures" env:"BREAKER_FAILURES"`
	WheelCooldown   Duration `yaml:"wheel_cooldown" env:"WHEEL_COOLDOWN"`

	Store      string `yaml:"store" env:"STORE"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisURL   string `yaml:"redis_url" env:"REDIS_URL"`
	Events     string `yaml:"events" env:"EVENTS"`

	Locale    string `yaml:"locale" env:"LOCALE"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	OTLPURL   string `yaml:"otlp_url" env:"OTLP_URL"`
	OTLPToken string `yaml:"otlp_token" env:"OTLP_TOKEN"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	EventsLocal = "local"
	EventsRedis = "redis"
)

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	def := balance.DefaultConfig()
	return &Config{
		PollingInterval: Duration(def.PollingInterval),
		CacheExpiry:     Duration(def.CacheExpiry),
		MaxRetries:      def.MaxRetries,
		RetryDelay:      Duration(def.RetryBaseDelay),
		RequestTimeout:  Duration(def.RequestTimeout),
		BreakerFailures: 5,
		WheelCooldown:   Duration(cooldown.DefaultCooldown),
		Store:           StoreSQLite,
		SQLitePath:      "launcher.db",
		Events:          EventsLocal,
		Locale:          "fr",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads path over the defaults and applies the environment on top. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrConfigNotFound, "%s", path)
			}
			return nil, errors.Wrapf(err, "read %s", path)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays VANYLA_* variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, "parse env")
	}
	return nil
}

func (c *Config) Validate() error {
	if !slices.Contains([]string{StoreMemory, StoreSQLite, StoreRedis}, c.Store) {
		return errors.Newf("store must be memory, sqlite or redis, got %q", c.Store)
	}
	if !slices.Contains([]string{EventsLocal, EventsRedis}, c.Events) {
		return errors.Newf("events must be local or redis, got %q", c.Events)
	}
	if (c.Store == StoreRedis || c.Events == EventsRedis) && c.RedisURL == "" {
		return errors.New("redis_url is required when store or events is redis")
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		return errors.New("sqlite_path is required when store is sqlite")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return errors.Newf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.MaxRetries < 0 {
		return errors.Newf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	for name, d := range map[string]Duration{
		"polling_interval": c.PollingInterval,
		"cache_expiry":     c.CacheExpiry,
		"retry_delay":      c.RetryDelay,
		"request_timeout":  c.RequestTimeout,
		"wheel_cooldown":   c.WheelCooldown,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive", name)
		}
	}
	if _, err := c.Language(); err != nil {
		return err
	}
	return nil
}

// Balance converts the settings for balance.New. A max_retries of 0
// disables retries.
func (c *Config) Balance() balance.Config {
	retries := c.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return balance.Config{
		PollingInterval: c.PollingInterval.Std(),
		CacheExpiry:     c.CacheExpiry.Std(),
		MaxRetries:      retries,
		RetryBaseDelay:  c.RetryDelay.Std(),
		RequestTimeout:  c.RequestTimeout.Std(),
	}
}

// AssetBase is where launcher assets are downloaded from. It defaults to
// APIURL.
func (c *Config) AssetBase() string {
	if c.AssetsURL != "" {
		return c.AssetsURL
	}
	return c.APIURL
}

// Language parses Locale.
func (c *Config) Language() (language.Tag, error) {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Und, errors.Wrapf(err, "invalid locale %q", c.Locale)
	}
	return tag, nil
}

// Fields returns the settings as log metadata with credentials masked.
func (c *Config) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"api_url":          c.APIURL,
		"polling_interval": c.PollingInterval.String(),
		"cache_expiry":     c.CacheExpiry.String(),
		"max_retries":      c.MaxRetries,
		"store":            c.Store,
		"events":           c.Events,
		"locale":           c.Locale,
	}
	if c.AssetsURL != "" {
		fields["assets_url"] = c.AssetsURL
	}
	if c.Store == StoreSQLite {
		fields["sqlite_path"] = c.SQLitePath
	}
	if c.RedisURL != "" {
		fields["redis_url"] = redactURL(c.RedisURL)
	}
	if c.OTLPURL != "" {
		fields["otlp_url"] = redactURL(c.OTLPURL)
	}
	if c.OTLPToken != "" {
		fields["otlp_token"] = mask(c.OTLPToken)
	}
	return fields
}

// mask keeps the first quarter of s, at most four characters.
func mask(s string) string {
	keep := min(len(s)/4, 4)
	return s[:keep] + strings.Repeat("*", len(s)-keep)
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return mask(s)
	}
	return u.Redacted()
}
