package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Defaults()
	cfg.API.BaseURL = "https://bot.example.com"
	cfg.API.Token = "tok-123"
	cfg.General.ConversationID = "work"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.API.BaseURL != "https://bot.example.com" {
		t.Errorf("baseUrl lost: %q", loaded.API.BaseURL)
	}
	if loaded.API.Token != "tok-123" {
		t.Errorf("token lost: %q", loaded.API.Token)
	}
	if loaded.General.ConversationID != "work" {
		t.Errorf("conversationId lost: %q", loaded.General.ConversationID)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"api":{"baseUrl":"ftp://nope"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "api.baseUrl") {
		t.Fatalf("expected baseUrl validation error, got %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RESUMEBOT_TOKEN", "from-env")

	out := ExpandEnvVars(`{"token":"${RESUMEBOT_TOKEN}","url":"${MISSING_VAR:-http://fallback}"}`)
	if !strings.Contains(out, "from-env") {
		t.Errorf("env var not substituted: %s", out)
	}
	if !strings.Contains(out, "http://fallback") {
		t.Errorf("default not applied: %s", out)
	}
}

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	cfg.API.BaseURL = "http://example.com"

	val, err := GetByPath(cfg, "api.baseUrl")
	if err != nil {
		t.Fatal(err)
	}
	if val != "http://example.com" {
		t.Errorf("expected baseUrl, got %v", val)
	}

	if _, err := GetByPath(cfg, "api.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "storage.messagePageSize", "25"); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.MessagePageSize != 25 {
		t.Errorf("expected 25, got %d", cfg.Storage.MessagePageSize)
	}

	// An update that breaks validation is refused.
	if err := SetByPath(cfg, "api.baseUrl", "not-a-url"); err == nil {
		t.Error("expected validation failure")
	}
	if cfg.API.BaseURL == "not-a-url" {
		t.Error("rejected update must not stick")
	}
}

func TestSanitizeMasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.API.Token = "super-secret-token-value"

	masked := Sanitize(cfg)
	if masked.API.Token == cfg.API.Token {
		t.Error("token should be masked")
	}
	if cfg.API.Token != "super-secret-token-value" {
		t.Error("original config must not be mutated")
	}
}
