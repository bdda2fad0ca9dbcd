package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigBasic(t *testing.T) {
	path := writeConfig(t, `[user]
	id = 7f7c7d1e
[backend]
	kind = rest
	url = https://project.example.co/rest/v1
	api-key = anon
	access-token = jwt
[explorer]
	search-debounce = 150ms
	search-limit = 5
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.User.ID != "7f7c7d1e" {
		t.Errorf("user.id = %q", cfg.User.ID)
	}
	if cfg.Backend.Kind != backendREST {
		t.Errorf("backend.kind = %q", cfg.Backend.Kind)
	}
	if cfg.Backend.APIKey != "anon" || cfg.Backend.AccessToken != "jwt" {
		t.Errorf("credentials = %q / %q", cfg.Backend.APIKey, cfg.Backend.AccessToken)
	}
	if cfg.Explorer.SearchLimit != 5 {
		t.Errorf("explorer.search-limit = %d", cfg.Explorer.SearchLimit)
	}
	d, err := cfg.Debounce()
	if err != nil || d != 150*time.Millisecond {
		t.Errorf("Debounce() = %v, %v", d, err)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.User.ID != defaultUserID {
		t.Errorf("user.id = %q, want %q", cfg.User.ID, defaultUserID)
	}
	if cfg.Backend.Kind != backendSQLite {
		t.Errorf("backend.kind = %q", cfg.Backend.Kind)
	}
	if cfg.Explorer.SearchLimit != defaultSearchLimit {
		t.Errorf("explorer.search-limit = %d", cfg.Explorer.SearchLimit)
	}
	d, err := cfg.Debounce()
	if err != nil || d != 300*time.Millisecond {
		t.Errorf("Debounce() = %v, %v", d, err)
	}
}

func TestLoadConfigUnknownKeysIgnored(t *testing.T) {
	path := writeConfig(t, `[backend]
	kind = sqlite
	colour = blue
[unrelated]
	x = 1
`)
	if _, err := loadConfig(path); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
}

func TestLoadConfigSyntaxError(t *testing.T) {
	path := writeConfig(t, "[backend\n\tkind = sqlite\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigOverride(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.override("u2", "")
	if cfg.User.ID != "u2" || cfg.Backend.Kind != backendSQLite {
		t.Errorf("got user=%q backend=%q", cfg.User.ID, cfg.Backend.Kind)
	}
	cfg.override("", backendREST)
	if cfg.Backend.Kind != backendREST {
		t.Errorf("backend = %q", cfg.Backend.Kind)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendSection
		wantErr bool
	}{
		{"sqlite", BackendSection{Kind: backendSQLite}, false},
		{"rest complete", BackendSection{Kind: backendREST, URL: "https://x", APIKey: "k"}, false},
		{"rest without url", BackendSection{Kind: backendREST, APIKey: "k"}, true},
		{"rest without key", BackendSection{Kind: backendREST, URL: "https://x"}, true},
		{"unknown", BackendSection{Kind: "mongo"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Backend: tt.backend}
			cfg.applyDefaults()
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateBadDebounce(t *testing.T) {
	cfg := &Config{Explorer: ExplorerSection{SearchDebounce: "soon"}}
	cfg.applyDefaults()
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for bad debounce")
	}
}

func TestDBPathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := &Config{Backend: BackendSection{DBPath: "~/data/taxon.db"}}
	got, err := cfg.dbPath()
	if err != nil {
		t.Fatalf("dbPath: %v", err)
	}
	want := filepath.Join(home, "data", "taxon.db")
	if got != want {
		t.Errorf("dbPath() = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Dir(want)); err != nil {
		t.Errorf("db dir not created: %v", err)
	}
}
