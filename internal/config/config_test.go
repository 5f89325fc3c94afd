package config

import (
	"os"
	"path/filepath"
	"testing"
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
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_SearchPathFindsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig := searchPathsFunc
	searchPathsFunc = func() []string { return []string{path} }
	defer func() { searchPathsFunc = orig }()

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("anthropic:\n  api_key: ${CODA_TEST_API_KEY}\n"), 0600)
	os.Setenv("CODA_TEST_API_KEY", "secret123")
	defer os.Unsetenv("CODA_TEST_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Anthropic.APIKey, "secret123")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load with missing file should error")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: info\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8765 {
		t.Errorf("Listen.Port = %d, want 8765", cfg.Listen.Port)
	}
	if cfg.Memory.ShortTermCapacity != 50 {
		t.Errorf("Memory.ShortTermCapacity = %d, want 50", cfg.Memory.ShortTermCapacity)
	}
	if cfg.Memory.VectorBackend != "cosine" {
		t.Errorf("Memory.VectorBackend = %q, want %q", cfg.Memory.VectorBackend, "cosine")
	}
	if cfg.Perf.SamplingIntervalSec != 5 {
		t.Errorf("Perf.SamplingIntervalSec = %d, want 5", cfg.Perf.SamplingIntervalSec)
	}
	if cfg.STT.Adapter != "mock" {
		t.Errorf("STT.Adapter = %q, want %q", cfg.STT.Adapter, "mock")
	}
	if cfg.TTS.Adapter != "mock" {
		t.Errorf("TTS.Adapter = %q, want %q", cfg.TTS.Adapter, "mock")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: [unterminated\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid YAML should error")
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject port 0")
	}
	cfg.Listen.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject port > 65535")
	}
}

func TestValidate_UnknownVectorBackend(t *testing.T) {
	cfg := Default()
	cfg.Memory.VectorBackend = "pinecone"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an unknown vector backend")
	}
}

func TestValidate_QdrantRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Memory.VectorBackend = "qdrant"
	cfg.Memory.QdrantDSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should require a DSN when vector_backend is qdrant")
	}
	cfg.Memory.QdrantDSN = "localhost:6334"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with DSN set should pass, got: %v", err)
	}
}

func TestValidate_ShortTermCapacityMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Memory.ShortTermCapacity = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject a zero short-term capacity")
	}
}

func TestValidate_NegativeSamplingInterval(t *testing.T) {
	cfg := Default()
	cfg.Perf.SamplingIntervalSec = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject a negative sampling interval")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "not-a-level"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an unparseable log level")
	}
}

func TestContextWindowForModel(t *testing.T) {
	cfg := Default()
	if got := cfg.ContextWindowForModel("qwen3:4b", 0); got != 4096 {
		t.Errorf("ContextWindowForModel(qwen3:4b) = %d, want 4096", got)
	}
	if got := cfg.ContextWindowForModel("unknown-model", 1234); got != 1234 {
		t.Errorf("ContextWindowForModel(unknown) = %d, want fallback 1234", got)
	}
}

func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() config should validate, got: %v", err)
	}
}

func TestAnthropicConfig_Configured(t *testing.T) {
	var c AnthropicConfig
	if c.Configured() {
		t.Fatal("empty AnthropicConfig should not be Configured")
	}
	c.APIKey = "sk-ant-test"
	if !c.Configured() {
		t.Fatal("AnthropicConfig with an api_key should be Configured")
	}
}
