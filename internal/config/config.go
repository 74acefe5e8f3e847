package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// LogConfig controls the application logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// File, when set, receives a copy of every log line.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SyncConfig describes the reconciliation window and schedule.
type SyncConfig struct {
	PastDays   int `yaml:"past_days" json:"past_days"`
	FutureDays int `yaml:"future_days" json:"future_days"`

	// Refresh is either a cron expression ("*/15 * * * *") or a duration
	// such as "15m" or "1d".
	Refresh string `yaml:"refresh" json:"refresh"`

	// DisplayTimezone is the IANA zone used when rendering notification times.
	DisplayTimezone string `yaml:"display_timezone" json:"display_timezone"`

	// Concurrency is the number of calendars synced in parallel per tick.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// SettingsConfig holds classification settings.
type SettingsConfig struct {
	// OnCampusLocation is the location prefix marking on-campus events.
	OnCampusLocation string `yaml:"on_campus_location" json:"on_campus_location"`
}

// EmailConfig configures outgoing notification mail.
type EmailConfig struct {
	From         string   `yaml:"from" json:"from"`
	ErrorTo      []string `yaml:"error_to" json:"error_to"`
	EventChanges bool     `yaml:"event_changes" json:"event_changes"`

	SMTPAddr string `yaml:"smtp_addr" json:"smtp_addr"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`

	ChangeSubject string `yaml:"change_subject" json:"change_subject"`
	ErrorSubject  string `yaml:"error_subject" json:"error_subject"`
}

// Enabled reports whether mail can be sent at all.
func (e EmailConfig) Enabled() bool {
	return e.SMTPAddr != "" && e.From != ""
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ServerConfig configures the OAuth callback listener.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`

	// PublicURL is the externally reachable base URL, used as the OAuth
	// redirect URI.
	PublicURL string `yaml:"public_url" json:"public_url"`

	// SlateServer is the base URL feed URLs are built from.
	SlateServer string `yaml:"slate_server" json:"slate_server"`

	// BasicAuth, if non-nil, protects /calendarlist.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// GoogleConfig points at the OAuth client secret downloaded from the
// Google Cloud console.
type GoogleConfig struct {
	ClientSecretFile string `yaml:"client_secret_file" json:"client_secret_file"`
}

// DataConfig locates on-disk state.
type DataConfig struct {
	DBPath   string `yaml:"db_path" json:"db_path"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// SentryConfig enables forwarding error digests to Sentry.
type SentryConfig struct {
	DSN         string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" json:"log"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Settings SettingsConfig `yaml:"settings" json:"settings"`
	Email    EmailConfig    `yaml:"email" json:"email"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Google   GoogleConfig   `yaml:"google" json:"google"`
	Data     DataConfig     `yaml:"data" json:"data"`
	Sentry   SentryConfig   `yaml:"sentry" json:"sentry"`
}

const (
	defaultRefresh       = "*/15 * * * *"
	defaultTimezone      = "America/New_York"
	defaultChangeSubject = "Slate Calendar Updates"
	defaultErrorSubject  = "Slate-Google Sync Errors"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Sync: SyncConfig{
			PastDays:        1,
			FutureDays:      30,
			Refresh:         defaultRefresh,
			DisplayTimezone: defaultTimezone,
			Concurrency:     1,
		},
		Settings: SettingsConfig{OnCampusLocation: "Admissions"},
		Email: EmailConfig{
			ErrorTo:       []string{},
			EventChanges:  true,
			ChangeSubject: defaultChangeSubject,
			ErrorSubject:  defaultErrorSubject,
		},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8080",
			PublicURL: "http://127.0.0.1:8080/",
		},
		Google: GoogleConfig{ClientSecretFile: "client_secret.json"},
		Data: DataConfig{
			DBPath:   "calsync.db",
			CacheDir: "cache",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	// A past window shorter than one day leaves no grace period at all.
	if c.Sync.PastDays < 1 {
		c.Sync.PastDays = def.Sync.PastDays
	}
	if c.Sync.FutureDays < 1 {
		c.Sync.FutureDays = def.Sync.FutureDays
	}
	if strings.TrimSpace(c.Sync.Refresh) == "" {
		c.Sync.Refresh = def.Sync.Refresh
	}
	if c.Sync.DisplayTimezone == "" {
		c.Sync.DisplayTimezone = def.Sync.DisplayTimezone
	}
	if c.Sync.Concurrency < 1 {
		c.Sync.Concurrency = 1
	}

	if c.Email.ErrorTo == nil {
		c.Email.ErrorTo = []string{}
	}
	if c.Email.ChangeSubject == "" {
		c.Email.ChangeSubject = def.Email.ChangeSubject
	}
	if c.Email.ErrorSubject == "" {
		c.Email.ErrorSubject = def.Email.ErrorSubject
	}

	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = def.Server.PublicURL
	}
	if c.Google.ClientSecretFile == "" {
		c.Google.ClientSecretFile = def.Google.ClientSecretFile
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}
	if c.Data.CacheDir == "" {
		c.Data.CacheDir = def.Data.CacheDir
	}
}

// Schedule converts Sync.Refresh into a robfig/cron spec. Durations such as
// "15m" or "1d" become "@every <duration>"; anything else is passed through
// as a cron expression.
func (c *Config) Schedule() (string, error) {
	spec := strings.TrimSpace(c.Sync.Refresh)
	if spec == "" {
		return defaultRefresh, nil
	}
	if strings.HasPrefix(spec, "@") || strings.Contains(spec, " ") {
		return spec, nil
	}
	d, err := str2duration.ParseDuration(spec)
	if err != nil {
		return "", fmt.Errorf("refresh %q is neither a cron expression nor a duration: %w", spec, err)
	}
	if d < time.Minute {
		return "", fmt.Errorf("refresh %q is shorter than one minute", spec)
	}
	return "@every " + d.String(), nil
}

// Location resolves Sync.DisplayTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolvePaths makes relative data and secret paths relative to the
// directory holding the config file.
func (c *Config) ResolvePaths(configPath string) {
	base := filepath.Dir(configPath)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Data.DBPath = rel(c.Data.DBPath)
	c.Data.CacheDir = rel(c.Data.CacheDir)
	c.Google.ClientSecretFile = rel(c.Google.ClientSecretFile)
	c.Log.File = rel(c.Log.File)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, leaving the
// final file with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
