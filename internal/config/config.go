// Package config loads kiosk shell configuration from a TOML file with
// environment-variable overrides. Every key has a working default, so a
// config file is optional.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Built-in defaults. The shell is shipped pointing at one site with two fixed
// ad placements; the config file exists for fleet operators that need to
// repoint it.
const (
	DefaultStartURL         = "https://unimaidresources.com.ng"
	DefaultAdServerURL      = "https://ads.unimaidresources.com.ng"
	DefaultInterstitialUnit = "unimaid-interstitial-main"
	DefaultBannerUnit       = "unimaid-banner-bottom"
	DefaultProbeURL         = "https://connectivitycheck.gstatic.com/generate_204"
)

type Config struct {
	StartURL         string // KIOSK_START_URL
	AdServerURL      string // KIOSK_AD_SERVER_URL (empty = ads disabled, gate resolves immediately)
	InterstitialUnit string // KIOSK_INTERSTITIAL_UNIT
	BannerUnit       string // KIOSK_BANNER_UNIT

	AdCooldown    time.Duration // KIOSK_AD_COOLDOWN (default 5m)
	AdLoadTimeout time.Duration // KIOSK_AD_LOAD_TIMEOUT (default 10s)

	ProbeURL      string        // KIOSK_PROBE_URL
	ProbeInterval time.Duration // KIOSK_PROBE_INTERVAL (default 15s)
	ProbeTimeout  time.Duration // KIOSK_PROBE_TIMEOUT (default 5s)

	RefreshWindow time.Duration // KIOSK_REFRESH_WINDOW (default 8s, safety bound on the refresh flag)

	NATSURL  string // KIOSK_NATS_URL (optional, empty = no bus events)
	Headless bool   // KIOSK_HEADLESS (default false; kiosks run headful)
	StateDir string // KIOSK_STATE_DIR (default ~/.local/state/kiosk)
}

// fileConfig is the on-disk TOML shape. Durations are strings ("5m", "10s").
type fileConfig struct {
	StartURL         string `toml:"start_url,omitempty"`
	AdServerURL      string `toml:"ad_server_url,omitempty"`
	InterstitialUnit string `toml:"interstitial_unit,omitempty"`
	BannerUnit       string `toml:"banner_unit,omitempty"`
	AdCooldown       string `toml:"ad_cooldown,omitempty"`
	AdLoadTimeout    string `toml:"ad_load_timeout,omitempty"`
	ProbeURL         string `toml:"probe_url,omitempty"`
	ProbeInterval    string `toml:"probe_interval,omitempty"`
	ProbeTimeout     string `toml:"probe_timeout,omitempty"`
	RefreshWindow    string `toml:"refresh_window,omitempty"`
	NATSURL          string `toml:"nats_url,omitempty"`
	Headless         *bool  `toml:"headless,omitempty"`
	StateDir         string `toml:"state_dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StartURL:         DefaultStartURL,
		AdServerURL:      DefaultAdServerURL,
		InterstitialUnit: DefaultInterstitialUnit,
		BannerUnit:       DefaultBannerUnit,
		AdCooldown:       5 * time.Minute,
		AdLoadTimeout:    10 * time.Second,
		ProbeURL:         DefaultProbeURL,
		ProbeInterval:    15 * time.Second,
		ProbeTimeout:     5 * time.Second,
		RefreshWindow:    8 * time.Second,
	}
}

// DefaultPath returns the default config file location
// (~/.config/kiosk/config.toml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kiosk", "config.toml"), nil
}

// Load builds the effective config: defaults, overlaid by the TOML file at
// path (missing file is not an error; empty path means the default location),
// overlaid by KIOSK_* environment variables.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		path = p
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if err := c.applyFile(&fc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving state dir: %w", err)
		}
		c.StateDir = filepath.Join(home, ".local", "state", "kiosk")
	}
	return c, nil
}

func (c *Config) applyFile(fc *fileConfig) error {
	setStr(&c.StartURL, fc.StartURL)
	setStr(&c.AdServerURL, fc.AdServerURL)
	setStr(&c.InterstitialUnit, fc.InterstitialUnit)
	setStr(&c.BannerUnit, fc.BannerUnit)
	setStr(&c.ProbeURL, fc.ProbeURL)
	setStr(&c.NATSURL, fc.NATSURL)
	setStr(&c.StateDir, fc.StateDir)
	if fc.Headless != nil {
		c.Headless = *fc.Headless
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.AdCooldown, &c.AdCooldown, "ad_cooldown"},
		{fc.AdLoadTimeout, &c.AdLoadTimeout, "ad_load_timeout"},
		{fc.ProbeInterval, &c.ProbeInterval, "probe_interval"},
		{fc.ProbeTimeout, &c.ProbeTimeout, "probe_timeout"},
		{fc.RefreshWindow, &c.RefreshWindow, "refresh_window"},
	} {
		if err := setDur(d.dst, d.raw, d.key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	setStr(&c.StartURL, os.Getenv("KIOSK_START_URL"))
	setStr(&c.AdServerURL, os.Getenv("KIOSK_AD_SERVER_URL"))
	setStr(&c.InterstitialUnit, os.Getenv("KIOSK_INTERSTITIAL_UNIT"))
	setStr(&c.BannerUnit, os.Getenv("KIOSK_BANNER_UNIT"))
	setStr(&c.ProbeURL, os.Getenv("KIOSK_PROBE_URL"))
	setStr(&c.NATSURL, os.Getenv("KIOSK_NATS_URL"))
	setStr(&c.StateDir, os.Getenv("KIOSK_STATE_DIR"))
	if v := os.Getenv("KIOSK_HEADLESS"); v != "" {
		c.Headless = v == "1" || v == "true"
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"KIOSK_AD_COOLDOWN", &c.AdCooldown},
		{"KIOSK_AD_LOAD_TIMEOUT", &c.AdLoadTimeout},
		{"KIOSK_PROBE_INTERVAL", &c.ProbeInterval},
		{"KIOSK_PROBE_TIMEOUT", &c.ProbeTimeout},
		{"KIOSK_REFRESH_WINDOW", &c.RefreshWindow},
	} {
		if err := setDur(d.dst, os.Getenv(d.env), d.env); err != nil {
			return err
		}
	}
	return nil
}

// WriteTOML writes the effective config in the file format (durations as
// strings), for `kiosk config`.
func (c *Config) WriteTOML(w io.Writer) error {
	headless := c.Headless
	fc := fileConfig{
		StartURL:         c.StartURL,
		AdServerURL:      c.AdServerURL,
		InterstitialUnit: c.InterstitialUnit,
		BannerUnit:       c.BannerUnit,
		AdCooldown:       c.AdCooldown.String(),
		AdLoadTimeout:    c.AdLoadTimeout.String(),
		ProbeURL:         c.ProbeURL,
		ProbeInterval:    c.ProbeInterval.String(),
		ProbeTimeout:     c.ProbeTimeout.String(),
		RefreshWindow:    c.RefreshWindow.String(),
		NATSURL:          c.NATSURL,
		Headless:         &headless,
		StateDir:         c.StateDir,
	}
	return toml.NewEncoder(w).Encode(fc)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDur(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
