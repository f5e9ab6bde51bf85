package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"copilot/internal/discovery"
	"copilot/internal/relevance"
)

// FeedConfig describes one event feed.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the feed endpoint.
	URL string `yaml:"url" json:"url"`
	// Kind is "ics" (default) or "json".
	Kind string `yaml:"kind" json:"kind"`
	// Timezone is the IANA zone of the market this feed covers (e.g.
	// "America/Chicago"). Required for ICS feeds.
	Timezone string `yaml:"timezone" json:"timezone"`
	// Category is applied to events the feed leaves uncategorised.
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
//
// There is no default location timezone: "today" is always
// computed for the timezone a request supplies.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen" env:"COPILOT_LISTEN"`

	// UIOrigin is the dashboard origin allowed by CORS. Empty disables CORS.
	UIOrigin string `yaml:"ui_origin" json:"ui_origin" env:"COPILOT_UI_ORIGIN"`

	// RefreshCron is the cron schedule for feed discovery.
	RefreshCron string `yaml:"refresh" json:"refresh" env:"COPILOT_REFRESH"`

	// HorizonDays is how far ahead recurring ICS events are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" env:"COPILOT_HORIZON_DAYS"`

	// BackfillDays keeps occurrences that started this many days ago, so
	// multi-day events already under way are still known.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" env:"COPILOT_BACKFILL_DAYS"`

	// EndTimePolicy is "required" (default) or "optional"; see relevance.
	EndTimePolicy string `yaml:"end_time_policy" json:"end_time_policy" env:"COPILOT_END_TIME_POLICY"`

	// CacheDir stores the last good payload of each feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"COPILOT_CACHE_DIR"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"COPILOT_LOG_LEVEL"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if set with both fields, protects every endpoint except
	// /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// credentialsEnv lets deployments inject credentials without writing them
// into the YAML file.
type credentialsEnv struct {
	Username string `env:"COPILOT_BASIC_AUTH_USERNAME"`
	Password string `env:"COPILOT_BASIC_AUTH_PASSWORD"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultRefreshCron = "*/15 * * * *"
	defaultCacheDir    = "/var/lib/copilot/feed-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		RefreshCron:   defaultRefreshCron,
		HorizonDays:   7,
		BackfillDays:  1,
		EndTimePolicy: "required",
		CacheDir:      defaultCacheDir,
		LogLevel:      "info",
		Feeds:         []FeedConfig{},
	}
}

// Normalize fills in missing values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.EndTimePolicy == "" {
		c.EndTimePolicy = "required"
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.Kind == "" {
			f.Kind = string(discovery.KindICS)
		}
		if f.ID == "" {
			if f.Name != "" {
				f.ID = f.Name
			} else {
				f.ID = f.URL
			}
		}
	}
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	if _, err := relevance.ParseEndTimePolicy(c.EndTimePolicy); err != nil {
		return err
	}
	var errs []error
	for _, f := range c.Feeds {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feed %q: url is empty", f.ID))
		}
		switch discovery.Kind(f.Kind) {
		case discovery.KindICS:
			if f.Timezone == "" {
				errs = append(errs, fmt.Errorf("feed %q: ics feeds need a timezone", f.ID))
			}
		case discovery.KindJSON:
		default:
			errs = append(errs, fmt.Errorf("feed %q: unknown kind %q", f.ID, f.Kind))
		}
	}
	return errors.Join(errs...)
}

// DiscoveryFeeds converts the feed configs for the discovery package.
func (c *Config) DiscoveryFeeds() []discovery.Feed {
	out := make([]discovery.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		out = append(out, discovery.Feed{
			ID:       f.ID,
			Name:     f.Name,
			URL:      f.URL,
			Kind:     discovery.Kind(f.Kind),
			Timezone: f.Timezone,
			Category: f.Category,
		})
	}
	return out
}

// Load loads configuration from the given YAML path, then applies
// COPILOT_* environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Still usable in memory; let the caller decide.
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overlays COPILOT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	var creds credentialsEnv
	if err := env.Parse(&creds); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	if creds.Username != "" || creds.Password != "" {
		if cfg.BasicAuth == nil {
			cfg.BasicAuth = &BasicAuthConfig{}
		}
		if creds.Username != "" {
			cfg.BasicAuth.Username = creds.Username
		}
		if creds.Password != "" {
			cfg.BasicAuth.Password = creds.Password
		}
	}
	return nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".copilot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
