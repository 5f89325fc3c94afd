package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/codalite/coda/internal/config"
	"github.com/codalite/coda/internal/embeddings"
	"github.com/codalite/coda/internal/events"
	"github.com/codalite/coda/internal/fetch"
	"github.com/codalite/coda/internal/llm"
	"github.com/codalite/coda/internal/memory"
	"github.com/codalite/coda/internal/router"
	"github.com/codalite/coda/internal/search"
	"github.com/codalite/coda/internal/stt"
	"github.com/codalite/coda/internal/tools"
	"github.com/codalite/coda/internal/tts"
)

// buildMemory wires the long-term memory stack: a vector index
// (cosine or qdrant per config), the SQLite archive, the forgetting
// and clustering policy, and an optional embedder. The returned close
// function closes the archive; callers defer it.
func buildMemory(cfg *config.Config, logger *slog.Logger, bus *events.Bus) (*memory.Manager, *memory.Policy, func() error, error) {
	var index memory.VectorIndex
	switch cfg.Memory.VectorBackend {
	case "qdrant":
		idx, err := memory.NewQdrantIndex(cfg.Memory.QdrantDSN, cfg.Memory.QdrantCollection, 768)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("qdrant index: %w", err)
		}
		index = idx
	default:
		index = memory.NewCosineIndex()
	}

	archive, err := memory.NewArchive(cfg.Memory.LongTermPath, index, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open archive: %w", err)
	}

	policy := memory.NewPolicy(archive, memory.PolicyConfig{
		MaxMemories:         cfg.Memory.MaxMemories,
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
	})

	var embedder memory.Embedder
	if cfg.Embeddings.Enabled {
		embedder = embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	}

	metaPath := filepath.Join(cfg.DataDir, "memory_metadata.json")
	mgr := memory.NewManager(archive, embedder, policy, metaPath, logger)
	mgr.SetBus(bus)
	return mgr, policy, archive.Close, nil
}

// buildLLMClient mirrors the teacher's multi-provider routing: an
// Ollama client as fallback, Anthropic registered when an API key is
// configured, and each configured model mapped to its provider.
func buildLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("anthropic provider configured")
	}

	for _, m := range cfg.Models.Available {
		provider := m.Provider
		if provider == "" {
			provider = "ollama"
		}
		multi.AddModel(m.Name, provider)
	}
	return multi
}

// buildRouter translates config.ModelConfig entries into router.Model
// entries. Returns nil when no models are configured, which the
// orchestrator treats as "always use cfg.Model".
func buildRouter(cfg *config.Config, logger *slog.Logger) *router.Router {
	if len(cfg.Models.Available) == 0 {
		return nil
	}
	rcfg := router.Config{
		DefaultModel: cfg.Models.Default,
		LocalFirst:   cfg.Models.LocalFirst,
		MaxAuditLog:  1000,
	}
	for _, m := range cfg.Models.Available {
		minComplexity := router.ComplexitySimple
		switch m.MinComplexity {
		case "moderate":
			minComplexity = router.ComplexityModerate
		case "complex":
			minComplexity = router.ComplexityComplex
		}
		rcfg.Models = append(rcfg.Models, router.Model{
			Name:          m.Name,
			Provider:      m.Provider,
			SupportsTools: m.SupportsTools,
			ContextWindow: m.ContextWindow,
			Speed:         m.Speed,
			Quality:       m.Quality,
			CostTier:      m.CostTier,
			MinComplexity: minComplexity,
		})
	}
	return router.NewRouter(logger, rcfg)
}

// buildRegistry assembles the always-available built-in tools plus,
// when configured, the web_search/web_fetch tools.
func buildRegistry(cfg *config.Config, mgr *memory.Manager, workingLog *memory.WorkingLog) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, tools.BuiltinDeps{
		Memory:     mgr,
		WorkingLog: workingLog,
		Registry:   reg,
	}); err != nil {
		return nil, err
	}

	var searchMgr *search.Manager
	if cfg.WebSearch.Enabled() {
		provider := cfg.WebSearch.Provider
		if provider == "" {
			switch {
			case cfg.WebSearch.BraveAPIKey != "":
				provider = "brave"
			case cfg.WebSearch.SearXNGURL != "":
				provider = "searxng"
			}
		}
		searchMgr = search.NewManager(provider)
		if cfg.WebSearch.BraveAPIKey != "" {
			searchMgr.Register(search.NewBrave(cfg.WebSearch.BraveAPIKey))
		}
		if cfg.WebSearch.SearXNGURL != "" {
			searchMgr.Register(search.NewSearXNG(cfg.WebSearch.SearXNGURL))
		}
	}
	if err := tools.RegisterWebTools(reg, searchMgr, fetch.New()); err != nil {
		return nil, err
	}
	return reg, nil
}

// buildVoiceAdapters constructs the STT/TTS adapters selected by
// config. Only "mock" is implemented today — binding a real vendor is
// explicitly out of scope (capability interfaces only) — so any other
// adapter name is a configuration error rather than a silent fallback.
func buildVoiceAdapters(cfg *config.Config) (stt.Transcriber, tts.Speaker, error) {
	var transcriber stt.Transcriber
	switch cfg.STT.Adapter {
	case "", "mock":
		transcriber = stt.NewMockTranscriber()
	default:
		return nil, nil, fmt.Errorf("stt.adapter %q is not implemented", cfg.STT.Adapter)
	}

	var speaker tts.Speaker
	switch cfg.TTS.Adapter {
	case "", "mock":
		speaker = tts.NewMockSpeaker()
	default:
		return nil, nil, fmt.Errorf("tts.adapter %q is not implemented", cfg.TTS.Adapter)
	}
	return transcriber, speaker, nil
}
