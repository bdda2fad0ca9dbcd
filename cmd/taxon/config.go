package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/gcfg/v2"

	"github.com/lthms/taxon/internal/search"
)

const (
	backendSQLite = "sqlite"
	backendREST   = "rest"

	defaultUserID      = "local"
	defaultSearchLimit = 20
)

// Config is the user configuration read from ~/.config/taxon/config.
type Config struct {
	User     UserSection
	Backend  BackendSection
	Explorer ExplorerSection
}

// UserSection identifies whose taxonomy is shown.
type UserSection struct {
	ID string `gcfg:"id"`
}

// BackendSection selects and configures the gateway.
type BackendSection struct {
	Kind        string `gcfg:"kind"`
	URL         string `gcfg:"url"`
	APIKey      string `gcfg:"api-key"`
	AccessToken string `gcfg:"access-token"`
	DBPath      string `gcfg:"db-path"`
}

// ExplorerSection tunes the interactive explorer.
type ExplorerSection struct {
	SearchDebounce string `gcfg:"search-debounce"`
	SearchLimit    int    `gcfg:"search-limit"`
}

// defaultConfigPath returns ~/.config/taxon/config.
func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "taxon", "config"), nil
}

// loadConfig reads the config file at path and applies defaults. A missing
// file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := gcfg.FatalOnly(gcfg.ReadFileInto(cfg, path)); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.User.ID == "" {
		c.User.ID = defaultUserID
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = backendSQLite
	}
	if c.Explorer.SearchDebounce == "" {
		c.Explorer.SearchDebounce = search.DefaultDebounce.String()
	}
	if c.Explorer.SearchLimit <= 0 {
		c.Explorer.SearchLimit = defaultSearchLimit
	}
}

// override applies command-line and environment values on top of the file.
func (c *Config) override(user, backend string) {
	if user != "" {
		c.User.ID = user
	}
	if backend != "" {
		c.Backend.Kind = backend
	}
}

// validate checks that the selected backend is fully configured.
func (c *Config) validate() error {
	switch c.Backend.Kind {
	case backendSQLite:
	case backendREST:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required for the rest backend")
		}
		if c.Backend.APIKey == "" {
			return fmt.Errorf("backend.api-key is required for the rest backend")
		}
	default:
		return fmt.Errorf("backend.kind: unknown backend %q (want %s or %s)", c.Backend.Kind, backendSQLite, backendREST)
	}
	if _, err := c.Debounce(); err != nil {
		return err
	}
	return nil
}

// Debounce parses explorer.search-debounce.
func (c *Config) Debounce() (time.Duration, error) {
	d, err := time.ParseDuration(c.Explorer.SearchDebounce)
	if err != nil {
		return 0, fmt.Errorf("explorer.search-debounce: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("explorer.search-debounce: must not be negative")
	}
	return d, nil
}

// dbPath resolves backend.db-path, defaulting to the state dir and
// expanding a leading ~.
func (c *Config) dbPath() (string, error) {
	p := c.Backend.DBPath
	if p == "" {
		dir, err := stateDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "taxon.db"), nil
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		p = filepath.Join(home, rest)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return "", fmt.Errorf("create db dir: %w", err)
	}
	return p, nil
}

func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	dir := filepath.Join(home, ".local", "state", "taxon")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}
