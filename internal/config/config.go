// Package config loads and validates exacqman configuration files.
//
// Configuration is stored in INI files (conventionally *.config) with four
// sections:
//
//	[Auth]      user, password
//	[Network]   server-initials = base URL (first entry is the default)
//	[Cameras]   alias = numeric camera id
//	[Settings]  quality, multiplier, timezone, font_weight, crop,
//	            output_dir, poll_interval, export_timeout,
//	            max_export_duration
//
// The file is loaded once per run; nothing in the pipeline re-reads it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

// Defaults applied when [Settings] keys are absent.
const (
	DefaultQuality           = "medium"
	DefaultMultiplier        = 10
	DefaultTimezone          = "UTC"
	DefaultFontWeight        = 2
	DefaultOutputDir         = "exports"
	DefaultPollInterval      = 5 * time.Second
	DefaultExportTimeout     = 30 * time.Minute
	DefaultMaxExportDuration = 4 * time.Hour
)

// Qualities lists the accepted quality tiers.
var Qualities = []string{"low", "medium", "high"}

// TimelapseOptions are the multiplier choices offered to the web frontend.
var TimelapseOptions = []int{1, 2, 5, 10, 15, 20, 25, 30, 40, 50}

// ValidationError reports a malformed configuration value or request
// parameter. It is always raised before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Settings holds the [Settings] section with defaults applied.
type Settings struct {
	Quality           string
	Multiplier        int
	Timezone          string
	Location          *time.Location
	FontWeight        int
	Crop              string // "x,y,width,height" or empty
	OutputDir         string
	PollInterval      time.Duration
	ExportTimeout     time.Duration
	MaxExportDuration time.Duration
}

// Config is a fully loaded and validated configuration file.
type Config struct {
	Path        string
	User        string
	Password    string
	Servers     map[string]string // initials -> base URL
	serverOrder []string          // declaration order, first is the default
	Cameras     map[string]int    // alias -> camera id
	Settings    Settings
}

// Load reads, parses, and validates an INI configuration file.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg := &Config{
		Path:    path,
		Servers: make(map[string]string),
		Cameras: make(map[string]int),
	}

	auth := f.Section("Auth")
	cfg.User = auth.Key("user").String()
	cfg.Password = auth.Key("password").String()
	if cfg.User == "" || cfg.Password == "" {
		return nil, &ValidationError{Field: "Auth", Reason: "user and password are required"}
	}

	network := f.Section("Network")
	for _, key := range network.Keys() {
		url := strings.TrimRight(key.String(), "/")
		if url == "" {
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "http://" + url
		}
		cfg.Servers[key.Name()] = url
		cfg.serverOrder = append(cfg.serverOrder, key.Name())
	}
	if len(cfg.Servers) == 0 {
		return nil, &ValidationError{Field: "Network", Reason: "at least one server address is required"}
	}

	cameras := f.Section("Cameras")
	for _, key := range cameras.Keys() {
		id, err := key.Int()
		if err != nil {
			return nil, &ValidationError{
				Field:  "Cameras." + key.Name(),
				Reason: fmt.Sprintf("camera id must be an integer, got %q", key.String()),
			}
		}
		cfg.Cameras[key.Name()] = id
	}
	if len(cfg.Cameras) == 0 {
		return nil, &ValidationError{Field: "Cameras", Reason: "at least one camera alias is required"}
	}

	if err := loadSettings(f.Section("Settings"), &cfg.Settings); err != nil {
		return nil, err
	}

	log.Debug().
		Str("path", path).
		Int("servers", len(cfg.Servers)).
		Int("cameras", len(cfg.Cameras)).
		Str("timezone", cfg.Settings.Timezone).
		Msg("Configuration loaded")

	return cfg, nil
}

func loadSettings(sec *ini.Section, s *Settings) error {
	s.Quality = sec.Key("quality").In(DefaultQuality, Qualities)
	s.Multiplier = sec.Key("multiplier").MustInt(DefaultMultiplier)
	if s.Multiplier < 1 {
		return &ValidationError{Field: "Settings.multiplier", Reason: "must be a positive integer"}
	}

	s.Timezone = sec.Key("timezone").MustString(DefaultTimezone)
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return &ValidationError{
			Field:  "Settings.timezone",
			Reason: fmt.Sprintf("unknown IANA timezone %q", s.Timezone),
		}
	}
	s.Location = loc

	s.FontWeight = sec.Key("font_weight").MustInt(DefaultFontWeight)
	if s.FontWeight < 0 {
		return &ValidationError{Field: "Settings.font_weight", Reason: "must not be negative"}
	}

	s.Crop = sec.Key("crop").String()
	if s.Crop != "" {
		if _, err := ParseCrop(s.Crop); err != nil {
			return err
		}
	}

	s.OutputDir = sec.Key("output_dir").MustString(DefaultOutputDir)
	s.PollInterval = sec.Key("poll_interval").MustDuration(DefaultPollInterval)
	s.ExportTimeout = sec.Key("export_timeout").MustDuration(DefaultExportTimeout)
	s.MaxExportDuration = sec.Key("max_export_duration").MustDuration(DefaultMaxExportDuration)
	return nil
}

// Rect is a crop rectangle in source pixel coordinates.
type Rect struct {
	X, Y, Width, Height int
}

// ParseCrop parses a crop rectangle in "x,y,width,height" form.
func ParseCrop(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, &ValidationError{Field: "crop", Reason: `expected "x,y,width,height"`}
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, &ValidationError{Field: "crop", Reason: fmt.Sprintf("%q is not an integer", p)}
		}
		vals[i] = v
	}
	r := Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return Rect{}, &ValidationError{Field: "crop", Reason: "origin must be non-negative and size positive"}
	}
	return r, nil
}

// ServerURL resolves the base URL for the given server initials.
// Empty initials select the first server declared in [Network].
func (c *Config) ServerURL(initials string) (string, error) {
	if initials == "" {
		return c.Servers[c.serverOrder[0]], nil
	}
	url, ok := c.Servers[initials]
	if !ok {
		return "", &ValidationError{
			Field:  "server",
			Reason: fmt.Sprintf("unknown server %q (have: %s)", initials, strings.Join(c.serverOrder, ", ")),
		}
	}
	return url, nil
}

// CameraID resolves a camera alias to its VMS camera id.
func (c *Config) CameraID(alias string) (int, error) {
	id, ok := c.Cameras[alias]
	if !ok {
		return 0, &ValidationError{
			Field:  "camera_alias",
			Reason: fmt.Sprintf("camera %q not found in %s", alias, c.Path),
		}
	}
	return id, nil
}

// CameraAliases returns the configured aliases in sorted order.
func (c *Config) CameraAliases() []string {
	aliases := make([]string, 0, len(c.Cameras))
	for alias := range c.Cameras {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// ServerNames returns the configured server initials in declaration order.
func (c *Config) ServerNames() []string {
	return append([]string(nil), c.serverOrder...)
}

// ListConfigFiles returns the *.config files in dir, sorted by name.
func ListConfigFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.config"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			names = append(names, filepath.Base(m))
		}
	}
	sort.Strings(names)
	return names, nil
}
