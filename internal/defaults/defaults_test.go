package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rajeevc5260/Code-Review-Helper/internal/config"
)

func TestConfigYAMLLoads(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("REVIEWHELPER_LINK_SECRET", "link-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-test" || cfg.Storage.LinkSecret != "link-secret" {
		t.Errorf("env not expanded: %+v", cfg.LLM.Anthropic)
	}
	if got := cfg.ProviderFor("qwen2.5-coder:32b"); got != "ollama" {
		t.Errorf("provider = %q, want ollama", got)
	}
	if cfg.Search.Configured() {
		t.Error("search should be disabled by default")
	}
	if p, ok := cfg.LLM.Pricing["claude-sonnet-4-20250514"]; !ok || p.OutputPerMillion != 15 {
		t.Errorf("pricing = %+v", cfg.LLM.Pricing)
	}
	if cfg.Health.PollInterval.Minutes() != 1 {
		t.Errorf("health.poll_interval = %v, want 1m", cfg.Health.PollInterval)
	}
}
