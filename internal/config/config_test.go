package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.APIURL != want.APIURL || cfg.RedisURL != want.RedisURL || cfg.BridgeURL != want.BridgeURL {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.BulkPositiveEnabled || !cfg.BulkFullEnabled {
		t.Error("bulk modes should default to enabled")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.APIURL = "https://staging.replyforge.ai"
	cfg.BulkFullEnabled = false
	cfg.SystemPrompt = "be brief"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.APIURL != cfg.APIURL || got.BulkFullEnabled || got.SystemPrompt != "be brief" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadFillsMissingEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{APIURL: "https://api.example.com"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.APIURL != "https://api.example.com" {
		t.Errorf("explicit value overwritten: %q", got.APIURL)
	}
	if got.RedisURL == "" || got.BridgeURL == "" {
		t.Errorf("missing endpoints not defaulted: %+v", got)
	}
}
