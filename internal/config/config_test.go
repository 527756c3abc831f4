package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("llm:\n  anthropic:\n    api_key: ${REVIEW_TEST_KEY}\n"), 0600)
	t.Setenv("REVIEW_TEST_KEY", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.LLM.Anthropic.APIKey, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: "+dir+"\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Agent.MaxRounds != 12 {
		t.Errorf("max_rounds = %d, want 12", cfg.Agent.MaxRounds)
	}
	if cfg.Agent.HistoryWindow != 5 {
		t.Errorf("history_window = %d, want 5", cfg.Agent.HistoryWindow)
	}
	if cfg.Agent.ReadMaxBytes != 512*1024 {
		t.Errorf("read_max_bytes = %d", cfg.Agent.ReadMaxBytes)
	}
	if cfg.Health.PollInterval != time.Minute || cfg.Health.ProbeTimeout != 10*time.Second {
		t.Errorf("health = %+v", cfg.Health)
	}
	if want := "file://" + filepath.Join(dir, "objects"); cfg.Storage.BaseURL != want {
		t.Errorf("storage.base_url = %q, want %q", cfg.Storage.BaseURL, want)
	}
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("agent:\n  keepalive_interval: 3s\n  request_timeout: 2m\n  max_rounds: 4\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.KeepaliveInterval != 3*time.Second {
		t.Errorf("keepalive_interval = %v", cfg.Agent.KeepaliveInterval)
	}
	if cfg.Agent.RequestTimeout != 2*time.Minute {
		t.Errorf("request_timeout = %v", cfg.Agent.RequestTimeout)
	}
	if cfg.Agent.MaxRounds != 4 {
		t.Errorf("max_rounds = %d", cfg.Agent.MaxRounds)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing anthropic key and link secret")
	}
	for _, want := range []string{"llm.anthropic.api_key", "storage.link_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	cfg.LLM.Default = "qwen3:8b"
	cfg.Storage.LinkSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestProviderFor(t *testing.T) {
	cfg := Default()
	cfg.LLM.Models = []ModelConfig{{Name: "claude-proxy", Provider: "ollama"}}

	tests := map[string]string{
		"claude-sonnet-4-20250514": "anthropic",
		"claude-proxy":             "ollama",
		"qwen3:8b":                 "ollama",
	}
	for model, want := range tests {
		if got := cfg.ProviderFor(model); got != want {
			t.Errorf("ProviderFor(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "trace", "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(t.Context(), LevelTrace, "payload")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output %q missing level=TRACE", buf.String())
	}

	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
