package bamboo

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/eringen/bamboo/ssg"
)

// Config holds all configuration for a bamboo server.
type Config struct {
	Name string `yaml:"name"` // Dashboard title (default "bamboo")
	URL  string `yaml:"url"`  // Public base URL used in sitemaps (default "http://localhost:3000")

	Addr         string `yaml:"addr"`          // Listen address (default ":3000")
	DataDir      string `yaml:"data_dir"`      // Root for the paths below (default "data")
	DatabasePath string `yaml:"database_path"` // SQLite path (default "{data}/bamboo.db")
	TemplateDir  string `yaml:"template_dir"`  // Template store root (default "{data}/templates")
	MediaDir     string `yaml:"media_dir"`     // Uploaded media (default "{data}/media")

	SyncInterval time.Duration `yaml:"sync_interval"` // Scheduled sync period (default 3m)
	SyncWorkers  int           `yaml:"sync_workers"`  // Concurrent fetches (default 5)
	GitHubToken  string        `yaml:"github_token"`  // Optional; empty means unauthenticated

	AdminPassword string `yaml:"admin_password"` // Required: admin login password
	SessionSecret string `yaml:"session_secret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookie_secure"`  // Set true for HTTPS

	SmallImageSuffix string        `yaml:"small_image_suffix"` // default "_small"
	SmallImageRatio  float64       `yaml:"small_image_ratio"`  // default 0.3
	SiteCacheTTL     time.Duration `yaml:"site_cache_ttl"`     // default 1m
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "bamboo"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "bamboo.db")
	}
	if c.TemplateDir == "" {
		c.TemplateDir = filepath.Join(c.DataDir, "templates")
	}
	if c.MediaDir == "" {
		c.MediaDir = filepath.Join(c.DataDir, "media")
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 3 * time.Minute
	}
	if c.SyncWorkers == 0 {
		c.SyncWorkers = 5
	}
	if c.SmallImageSuffix == "" {
		c.SmallImageSuffix = "_small"
	}
	if c.SmallImageRatio == 0 {
		c.SmallImageRatio = 0.3
	}
	if c.SiteCacheTTL == 0 {
		c.SiteCacheTTL = time.Minute
	}
}

// LoadConfig reads an optional YAML file, applies environment overrides and
// fills in defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("bamboo: read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("bamboo: parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = EnvOr("BAMBOO_ADDR", c.Addr)
	c.URL = EnvOr("SITE_URL", c.URL)
	c.DataDir = EnvOr("DATA_DIR", c.DataDir)
	c.DatabasePath = EnvOr("BAMBOO_DATABASE_PATH", c.DatabasePath)
	c.TemplateDir = EnvOr("SSG_TEMPLATE_DIR", c.TemplateDir)
	c.MediaDir = EnvOr("BAMBOO_MEDIA_DIR", c.MediaDir)
	c.GitHubToken = EnvOr("SSG_GH_TOKEN", c.GitHubToken)
	c.AdminPassword = EnvOr("ADMIN_PASSWORD", c.AdminPassword)
	c.SessionSecret = EnvOr("ADMIN_SESSION_SECRET", c.SessionSecret)
	c.SmallImageSuffix = EnvOr("BAMBOO_SMALL_IMAGE_SUFFIX", c.SmallImageSuffix)

	if v := os.Getenv("SSG_SYNC_INTERVAL"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return fmt.Errorf("bamboo: SSG_SYNC_INTERVAL must be a positive number of minutes, got %q", v)
		}
		c.SyncInterval = time.Duration(minutes) * time.Minute
	}
	if v := os.Getenv("SSG_SYNC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("bamboo: SSG_SYNC_WORKERS must be a positive integer, got %q", v)
		}
		c.SyncWorkers = n
	}
	if v := os.Getenv("BAMBOO_SMALL_IMAGE_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r > 1 {
			return fmt.Errorf("bamboo: BAMBOO_SMALL_IMAGE_RATIO must be in (0, 1], got %q", v)
		}
		c.SmallImageRatio = r
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("bamboo: COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = secure
	}
	return nil
}

// WriteConfig writes cfg as YAML. The file is replaced atomically so a
// running server never reads a truncated config.
func WriteConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithLogger sets the logger handed to the SSG components.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}

// WithFetcherOptions passes extra options to the template fetcher, e.g. a
// custom HTTP client or additional template sources.
func WithFetcherOptions(opts ...ssg.FetcherOption) Option {
	return func(a *App) {
		a.fetcherOpts = append(a.fetcherOpts, opts...)
	}
}

// WithViews overrides the built-in admin and error pages. Nil fields keep
// their defaults.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}
