package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/studykit-ai/studykit/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studykit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  listen: ":9090"
storage:
  path: /var/lib/studykit/studykit.db
  retrieval_index_path: /var/lib/studykit/index.db
upstream:
  base_url: https://generation.example.com
  api_key: secret
  timeout: 90s
chat:
  model: gemini-2.5-pro
  system_prompt: Custom prompt.
context:
  rag_threshold_tokens: 50000
  cache_ttl: 10m
generation:
  tiers:
    - name: gemini-2.5-pro
      max_input_tokens: 1048576
      max_output_tokens: 8192
      temperature: 0.7
      top_k: 40
      max_retries: 3
janitor:
  schedule: "*/10 * * * *"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("Server.Listen = %q, want :9090", cfg.Server.Listen)
	}
	if cfg.Upstream.Timeout != 90*time.Second {
		t.Errorf("Upstream.Timeout = %v, want 90s", cfg.Upstream.Timeout)
	}
	if cfg.Chat.Model != "gemini-2.5-pro" {
		t.Errorf("Chat.Model = %q, want gemini-2.5-pro", cfg.Chat.Model)
	}
	if cfg.Context.RAGThresholdTokens != 50000 {
		t.Errorf("Context.RAGThresholdTokens = %d, want 50000", cfg.Context.RAGThresholdTokens)
	}
	if cfg.Context.CacheTTL != 10*time.Minute {
		t.Errorf("Context.CacheTTL = %v, want 10m", cfg.Context.CacheTTL)
	}
	if len(cfg.Generation.Tiers) != 1 || cfg.Generation.Tiers[0].MaxRetries != 3 {
		t.Errorf("Generation.Tiers = %+v, want one tier with 3 retries", cfg.Generation.Tiers)
	}
	if cfg.Janitor.Schedule != "*/10 * * * *" {
		t.Errorf("Janitor.Schedule = %q, want */10 * * * *", cfg.Janitor.Schedule)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
upstream:
  base_url: https://generation.example.com
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("default Server.Listen = %q, want :8080", cfg.Server.Listen)
	}
	if cfg.Storage.Path != "studykit.db" {
		t.Errorf("default Storage.Path = %q, want studykit.db", cfg.Storage.Path)
	}
	if cfg.Storage.RetrievalIndexPath != ":memory:" {
		t.Errorf("default Storage.RetrievalIndexPath = %q, want :memory:", cfg.Storage.RetrievalIndexPath)
	}
	if cfg.Chat.Model != "gemini-2.5-flash" {
		t.Errorf("default Chat.Model = %q, want gemini-2.5-flash", cfg.Chat.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load(absent file) error = nil, want failure")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "server: [unclosed")
	if _, err := config.Load(path); err == nil {
		t.Fatal("Load(invalid YAML) error = nil, want parse failure")
	}
}

// ---------------------------------------------------------------------------
// Environment variable expansion
// ---------------------------------------------------------------------------

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("STUDYKIT_TEST_API_KEY", "key-from-env")

	path := writeConfig(t, `
upstream:
  base_url: ${STUDYKIT_TEST_BASE_URL:-https://default.example.com}
  api_key: ${STUDYKIT_TEST_API_KEY}
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.APIKey != "key-from-env" {
		t.Errorf("Upstream.APIKey = %q, want the environment value", cfg.Upstream.APIKey)
	}
	if cfg.Upstream.BaseURL != "https://default.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want the inline default", cfg.Upstream.BaseURL)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("STUDYKIT_TEST_BASE_URL", "https://override.example.com")

	path := writeConfig(t, `
upstream:
  base_url: ${STUDYKIT_TEST_BASE_URL:-https://default.example.com}
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.BaseURL != "https://override.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want the environment override", cfg.Upstream.BaseURL)
	}
}

func TestLoad_BareReferenceExpansion(t *testing.T) {
	t.Setenv("STUDYKIT_TEST_BARE_KEY", "bare-key-value")

	path := writeConfig(t, `
upstream:
  base_url: https://example.com
  api_key: $STUDYKIT_TEST_BARE_KEY
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.APIKey != "bare-key-value" {
		t.Errorf("Upstream.APIKey = %q, want the environment value", cfg.Upstream.APIKey)
	}
}

func TestLoad_UnresolvedVariableFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
upstream:
  base_url: https://example.com
  api_key: ${STUDYKIT_TEST_DEFINITELY_UNSET_VAR}
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load(unresolved variable) error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "STUDYKIT_TEST_DEFINITELY_UNSET_VAR") {
		t.Errorf("Load() error = %q, want it to name the unresolved variable", err)
	}
}

func TestLoad_ReportsAllUnresolvedVariables(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
upstream:
  base_url: ${STUDYKIT_TEST_UNSET_ONE}
  api_key: ${STUDYKIT_TEST_UNSET_TWO}
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load(two unresolved variables) error = nil, want failure")
	}
	for _, name := range []string{"STUDYKIT_TEST_UNSET_ONE", "STUDYKIT_TEST_UNSET_TWO"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Load() error = %q, want it to name %s", err, name)
		}
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestLoad_RejectsInvalidStructure(t *testing.T) {
	t.Parallel()

	// base_url is required; Load validates after applying defaults.
	path := writeConfig(t, `
server:
  listen: ":9090"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load(missing base_url) error = nil, want validation failure")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("Load() error = %q, want it to mention base_url", err)
	}
}
