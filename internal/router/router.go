// Package router picks which configured LLM model handles a chat call.
// It is optional: the orchestrator pins every call to cfg.Model when no
// router is configured (nil), and consults it otherwise for each of the
// two passes — pass 1 (tool detection / conversation) and pass 2
// (summarization, which prefers speed over quality).
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Request describes one model-selection decision.
type Request struct {
	Query       string            // the user's input, for length-based complexity
	ContextSize int               // estimated tokens of context
	NeedsTools  bool               // whether this pass may dispatch a tool call
	ToolCount   int               // number of tools available to the model
	Priority    Priority          // latency requirements
	Hints       map[string]string // caller-supplied routing hints (see HintXxx)
}

// Hint keys callers set in Request.Hints to influence model selection.
const (
	// HintChannel identifies the request's surface: e.g. "voice", "api".
	HintChannel = "channel"
	// HintQualityFloor is the minimum quality rating (1-10) required.
	HintQualityFloor = "quality_floor"
	// HintModelPreference names a specific model (soft preference, not override).
	HintModelPreference = "model_preference"
	// HintMission describes the task context: "conversation", "background", "summarization".
	HintMission = "mission"
	// HintLocalOnly restricts routing to free/local models when "true".
	HintLocalOnly = "local_only"
	// HintPreferSpeed favors fast models (Speed >= 7) over quality,
	// regardless of cost tier. Pass 2 (summarization) sets this.
	HintPreferSpeed = "prefer_speed"
)

// Priority indicates latency requirements.
type Priority int

const (
	PriorityInteractive Priority = iota // caller is waiting on a response
	PriorityBackground                  // can take longer for better quality
)

// Complexity categorizes how much reasoning a request likely needs.
type Complexity int

const (
	ComplexitySimple   Complexity = iota // short, no tools
	ComplexityModerate                   // ordinary conversation
	ComplexityComplex                    // long context or tool dispatch
)

// String returns the human-readable name of a complexity level.
func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Decision records why a model was selected, returned alongside the
// model name so callers (and tests) can inspect the scoring.
type Decision struct {
	RequestID   string         `json:"request_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Complexity  Complexity     `json:"complexity"`
	Scores      map[string]int `json:"scores,omitempty"`
	ModelSelected string       `json:"model_selected"`
	Reasoning   string         `json:"reasoning"`
}

// Model represents an available model and its capabilities.
type Model struct {
	Name          string     // model identifier, e.g. "qwen3:4b"
	Provider      string     // "ollama", "anthropic", etc
	SupportsTools bool       // can do tool calling
	ContextWindow int        // max tokens
	Speed         int        // relative speed (1-10, 10=fastest)
	Quality       int        // relative quality (1-10, 10=best)
	CostTier      int        // 0=free/local, 1=cheap, 2=moderate, 3=expensive
	MinComplexity Complexity // don't use for simpler requests than this
}

// Config holds router configuration.
type Config struct {
	Models       []Model // available models
	DefaultModel string  // fallback when no candidate is eligible
	LocalFirst   bool    // prefer local models when possible
	MaxAuditLog  int     // unused when no audit log is kept; retained for config compatibility
}

// Router selects a model for each chat call based on request
// characteristics and caller hints.
type Router struct {
	logger *slog.Logger
	config Config
}

// NewRouter creates a router with the given configuration.
func NewRouter(logger *slog.Logger, config Config) *Router {
	return &Router{logger: logger, config: config}
}

// MaxQuality returns the highest quality rating among configured models.
// With no models configured it returns 10, a safe default that selects
// whatever the caller treats as the best available model at runtime.
func (r *Router) MaxQuality() int {
	max := 0
	for _, m := range r.config.Models {
		if m.Quality > max {
			max = m.Quality
		}
	}
	if max == 0 {
		return 10
	}
	return max
}

// Route selects a model for the given request.
func (r *Router) Route(ctx context.Context, req Request) (string, *Decision) {
	decision := &Decision{
		RequestID:  generateRequestID(),
		Timestamp:  time.Now(),
		Complexity: r.analyzeComplexity(req),
	}

	model := r.selectModel(req, decision)
	decision.ModelSelected = model

	r.logger.Info("model routed",
		"request_id", decision.RequestID,
		"model", model,
		"complexity", decision.Complexity.String(),
		"reasoning", decision.Reasoning,
	)
	return model, decision
}

// analyzeComplexity estimates how much a request taxes the model from
// structural signals alone — query length, context size, and whether
// tool dispatch is in play — rather than keyword-matching the query
// text, since the orchestrator's two passes are generic chat turns with
// no fixed command vocabulary.
func (r *Router) analyzeComplexity(req Request) Complexity {
	if req.NeedsTools || req.ContextSize > 2000 {
		return ComplexityComplex
	}
	if len(strings.TrimSpace(req.Query)) < 20 {
		return ComplexitySimple
	}
	return ComplexityModerate
}

// selectModel picks the best-scoring eligible model.
func (r *Router) selectModel(req Request, decision *Decision) string {
	var reasoning strings.Builder

	var candidates []Model
	for _, m := range r.config.Models {
		if req.NeedsTools && !m.SupportsTools {
			continue
		}
		if req.ContextSize > 0 && m.ContextWindow > 0 && req.ContextSize > m.ContextWindow {
			continue
		}
		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		decision.Reasoning = "no eligible models, using default"
		return r.config.DefaultModel
	}

	scores := make(map[string]int)
	for _, m := range candidates {
		score := 0

		if decision.Complexity >= m.MinComplexity {
			score += 20
		}
		if decision.Complexity == ComplexitySimple && m.Speed >= 7 {
			score += 15
		}
		if decision.Complexity == ComplexityComplex && m.Quality >= 7 {
			score += m.Quality * 2
		}

		if m.CostTier > 0 {
			switch decision.Complexity {
			case ComplexitySimple:
				score -= m.CostTier * 15
			case ComplexityModerate:
				score -= m.CostTier * 8
			case ComplexityComplex:
				score -= m.CostTier * 3
			}
		}
		if m.CostTier == 0 && decision.Complexity < ComplexityComplex {
			score += 15
		}

		contextRatio := float64(req.ContextSize) / float64(m.ContextWindow)
		if contextRatio > 0.3 && m.Quality < 7 {
			score -= 30
		}
		if contextRatio > 0.5 && m.Quality >= 7 {
			score += 10
		}

		if req.ToolCount > 4 && m.Quality < 7 {
			score -= 20
		}
		if r.config.LocalFirst && m.CostTier == 0 {
			score += 10
		}
		if req.Priority == PriorityInteractive && m.Speed >= 7 {
			score += 10
		}

		if req.Hints != nil {
			if req.Hints[HintChannel] == "voice" {
				if m.CostTier == 0 {
					score += 20
				}
				if m.Speed >= 7 {
					score += 10
				}
			}
			if floor, ok := req.Hints[HintQualityFloor]; ok {
				if floorInt, err := strconv.Atoi(floor); err == nil && m.Quality < floorInt {
					score -= 100
				}
			}
			if req.Hints[HintMission] == "background" {
				if m.CostTier == 0 {
					score += 20
				}
			}
			if pref, ok := req.Hints[HintModelPreference]; ok && pref == m.Name {
				score += 25
			}
			if req.Hints[HintLocalOnly] == "true" && m.CostTier > 0 {
				score -= 200
			}
			if req.Hints[HintPreferSpeed] == "true" && m.Speed >= 7 {
				score += 15
			}
		}

		scores[m.Name] = score
	}
	decision.Scores = scores

	var best Model
	bestScore := -1 << 30
	for _, m := range candidates {
		s := scores[m.Name]
		if s > bestScore ||
			(s == bestScore && m.CostTier < best.CostTier) ||
			(s == bestScore && m.CostTier == best.CostTier && m.Quality > best.Quality) {
			best = m
			bestScore = s
		}
	}

	reasoning.WriteString("selected " + best.Name)
	reasoning.WriteString(" (score=" + strconv.Itoa(bestScore) + ")")
	reasoning.WriteString(" for " + decision.Complexity.String() + " request")
	if r.config.LocalFirst && best.CostTier == 0 {
		reasoning.WriteString(", local-first preference applied")
	}
	decision.Reasoning = reasoning.String()

	return best.Name
}

// generateRequestID creates a timestamp-based ID for log correlation.
func generateRequestID() string {
	return time.Now().Format("20060102-150405.000")
}
