package main

import (
	"path/filepath"
	"testing"

	"github.com/codalite/coda/internal/config"
)

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := &config.Config{DataDir: dataDir}
	cfg.Memory.VectorBackend = "cosine"
	cfg.Memory.LongTermPath = filepath.Join(dataDir, "longterm.db")
	cfg.Memory.MaxMemories = 100
	cfg.Memory.SimilarityThreshold = 0.7
	cfg.STT.Adapter = "mock"
	cfg.TTS.Adapter = "mock"
	return cfg
}

func TestBuildMemory_CosineBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	mgr, policy, closeFn, err := buildMemory(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildMemory: %v", err)
	}
	defer closeFn()

	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
	if policy == nil {
		t.Fatal("expected non-nil policy")
	}
}

func TestBuildMemory_QdrantBackendPropagatesIndexError(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Memory.VectorBackend = "qdrant"
	cfg.Memory.QdrantDSN = "http://127.0.0.1:1"
	cfg.Memory.QdrantCollection = ""

	// An empty collection name fails fast inside NewQdrantIndex before
	// any network dial, so this exercises buildMemory's error path
	// without depending on a running Qdrant instance.
	if _, _, _, err := buildMemory(cfg, nil, nil); err == nil {
		t.Fatal("expected error for empty qdrant collection name")
	}
}

func TestBuildRouter_NoModelsReturnsNil(t *testing.T) {
	cfg := &config.Config{}
	if r := buildRouter(cfg, nil); r != nil {
		t.Fatalf("expected nil router with no configured models, got %v", r)
	}
}

func TestBuildRouter_WithModels(t *testing.T) {
	cfg := &config.Config{}
	cfg.Models.Default = "qwen3:4b"
	cfg.Models.Available = []config.ModelConfig{
		{Name: "qwen3:4b", Provider: "ollama", MinComplexity: "simple", ContextWindow: 4096},
		{Name: "qwen2.5:72b", Provider: "ollama", MinComplexity: "complex", ContextWindow: 32768},
	}

	r := buildRouter(cfg, nil)
	if r == nil {
		t.Fatal("expected non-nil router")
	}
}

func TestBuildVoiceAdapters_Mock(t *testing.T) {
	cfg := &config.Config{}
	cfg.STT.Adapter = "mock"
	cfg.TTS.Adapter = "mock"

	transcriber, speaker, err := buildVoiceAdapters(cfg)
	if err != nil {
		t.Fatalf("buildVoiceAdapters: %v", err)
	}
	if transcriber == nil || speaker == nil {
		t.Fatal("expected non-nil transcriber and speaker")
	}
}

func TestBuildVoiceAdapters_UnknownAdapterErrors(t *testing.T) {
	cfg := &config.Config{}
	cfg.STT.Adapter = "whisper"
	cfg.TTS.Adapter = "mock"

	if _, _, err := buildVoiceAdapters(cfg); err == nil {
		t.Fatal("expected error for unimplemented stt adapter")
	}
}

func TestBuildRegistry_RegistersBuiltinsAndSkipsWebToolsWhenUnconfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	mgr, _, closeFn, err := buildMemory(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildMemory: %v", err)
	}
	defer closeFn()

	reg, err := buildRegistry(cfg, mgr, nil)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	if reg.Get("get_time") == nil {
		t.Error("expected builtin get_time tool to be registered")
	}
	if reg.Get("web_search") != nil {
		t.Error("expected web_search to be unregistered without WebSearch config")
	}
}

func TestBuildRegistry_RegistersWebToolsWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.WebSearch.BraveAPIKey = "test-key"

	mgr, _, closeFn, err := buildMemory(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildMemory: %v", err)
	}
	defer closeFn()

	reg, err := buildRegistry(cfg, mgr, nil)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	if reg.Get("web_search") == nil {
		t.Error("expected web_search to be registered when WebSearch is configured")
	}
	if reg.Get("web_fetch") == nil {
		t.Error("expected web_fetch to always be registered")
	}
}
