// Package orchestrator owns the per-turn voice-assistant pipeline: it
// wires STT, LLM, TTS, memory, and the tool router together, drives
// the two-pass tool-calling protocol, and publishes every milestone to
// the event bus. This is the hard concurrency-and-state-machine core
// the rest of the module's packages support.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codalite/coda/internal/config"
	"github.com/codalite/coda/internal/events"
	"github.com/codalite/coda/internal/llm"
	"github.com/codalite/coda/internal/memory"
	"github.com/codalite/coda/internal/perf"
	"github.com/codalite/coda/internal/router"
	"github.com/codalite/coda/internal/stt"
	"github.com/codalite/coda/internal/tools"
	"github.com/codalite/coda/internal/tts"
	"github.com/codalite/coda/internal/usage"
)

const (
	toolDetectionPrompt = "If a tool is needed, emit ONLY a JSON object of shape " +
		`{"tool_call": {"name": "...", "args": {...}}}; otherwise answer naturally ` +
		"in plain conversational text. Never mix the two in one reply."

	summarizationPrompt = "Restate the tool result below as a short, natural, " +
		"conversational reply to the user's question. Do not emit JSON, do not " +
		"mention that a tool was used, and do not repeat the question."

	speakQueueCapacity = 16
	ttsJoinTimeout     = 2 * time.Second
	llmMaxTokens       = 256
	llmTemperature     = 0.7
	contextTokenBudget = 800
)

// Config bundles the orchestrator's tunables — the pieces of
// [internal/config.Config] it actually consumes, kept narrow so tests
// can construct one without loading a YAML file.
type Config struct {
	Model              string
	Temperature        float64
	MaxTokens          int
	ContextTokenBudget int
}

// Orchestrator owns the per-turn state machine and the long-lived TTS
// worker. One Orchestrator serves one conversation at a time; it is
// not safe to call ProcessUserInput concurrently with itself (the
// processing gate rejects overlap, it does not queue).
type Orchestrator struct {
	cfg Config

	transcriber stt.Transcriber
	llmClient   llm.Client
	speaker     tts.Speaker

	workingLog *memory.WorkingLog
	longterm   *memory.Manager
	registry   *tools.Registry
	router     *router.Router
	usage      *usage.Store
	pricing    map[string]config.PricingEntry

	bus     *events.Bus
	tracker *perf.Tracker
	logger  *slog.Logger

	systemPrompt string

	processing atomic.Bool
	running    atomic.Bool

	speakQueue chan string
	wg         sync.WaitGroup
	stopCh     chan struct{}

	mu           sync.Mutex
	lastToolUsed string
}

// LastToolUsed reports the name of the most recently dispatched tool,
// mirroring the reference implementation's memory-manager bookkeeping
// so callers (tests, a status tool) can inspect it. Returns "" if no
// tool has run yet this session.
func (o *Orchestrator) LastToolUsed() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastToolUsed
}

// Deps are the collaborators NewOrchestrator wires together. Every
// field is constructed by the caller (cmd/coda's main, or a test) —
// per the design note against global singletons, there is no
// package-level state here for any of these.
type Deps struct {
	Transcriber stt.Transcriber
	LLMClient   llm.Client
	Speaker     tts.Speaker
	WorkingLog  *memory.WorkingLog
	LongTerm    *memory.Manager
	Registry    *tools.Registry
	// Router, if set, picks the model for each chat call based on
	// query complexity and a speed/quality hint — pass 1 (tool
	// detection, conversational) routes with HintMission
	// "conversation"; pass 2 (summarization) adds HintPreferSpeed since
	// it only restates an already-known result. Leaving it nil keeps
	// every call pinned to cfg.Model.
	Router *router.Router
	// UsageStore, if set, persists a token-usage record for every chat
	// call (both passes). Leaving it nil disables usage tracking.
	UsageStore *usage.Store
	// Pricing maps model name to per-token cost, normally built from
	// config.Config.Pricing(). A nil or empty map records zero cost for
	// every model rather than failing the turn.
	Pricing map[string]config.PricingEntry
	Bus        *events.Bus
	Tracker    *perf.Tracker
	Logger     *slog.Logger
	// PersonalityPrompt is the assembled base system prompt (identity,
	// tone, instructions) assembled upstream of this package — the
	// core treats its exact wording as a non-goal and only appends the
	// tool-detection instruction and tool documentation to it.
	PersonalityPrompt string
}

// NewOrchestrator constructs an Orchestrator and performs the full
// initialization sequence from personality-prompt assembly through
// seeding short-term memory, per spec's fixed init order. Adapters are
// constructed by the caller and passed in here — never lazily
// constructed inside a later method body, so there is no window where
// a partially-initialized Orchestrator can receive a turn.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.LLMClient == nil {
		return nil, fmt.Errorf("new orchestrator: an LLM client is required")
	}
	if deps.WorkingLog == nil {
		return nil, fmt.Errorf("new orchestrator: a working log is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("new orchestrator: a tool registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = llmMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = llmTemperature
	}
	if cfg.ContextTokenBudget == 0 {
		cfg.ContextTokenBudget = contextTokenBudget
	}

	systemPrompt := deps.PersonalityPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful voice assistant."
	}
	systemPrompt += "\n\n" + toolDetectionPrompt
	if toolDocs := deps.Registry.DescribeTools("", "text"); toolDocs != "" {
		systemPrompt += "\n\nAvailable tools:\n" + toolDocs
	}

	o := &Orchestrator{
		cfg:          cfg,
		transcriber:  deps.Transcriber,
		llmClient:    deps.LLMClient,
		speaker:      deps.Speaker,
		workingLog:   deps.WorkingLog,
		longterm:     deps.LongTerm,
		registry:     deps.Registry,
		router:       deps.Router,
		usage:        deps.UsageStore,
		pricing:      deps.Pricing,
		bus:          deps.Bus,
		tracker:      deps.Tracker,
		logger:       logger,
		systemPrompt: systemPrompt,
		speakQueue:   make(chan string, speakQueueCapacity),
		stopCh:       make(chan struct{}),
	}

	o.workingLog.AddTurn(memory.RoleSystem, systemPrompt)

	o.running.Store(true)
	o.wg.Add(1)
	go o.runSpeakQueue()

	if o.transcriber != nil {
		if err := o.transcriber.Start(context.Background(), stt.ModeContinuous, o.onSTTInterim, o.onSTTResult); err != nil {
			return nil, fmt.Errorf("new orchestrator: start transcriber: %w", err)
		}
	}

	return o, nil
}

// onSTTInterim republishes a partial transcription as an stt_interim
// event; it never touches the processing gate.
func (o *Orchestrator) onSTTInterim(text string, confidence float64) {
	o.submit(events.TypeSTTInterim, map[string]any{"text": text, "confidence": confidence}, events.PriorityNormal)
}

// onSTTResult is the callback the transcriber invokes on a final
// result. Per the processing gate rule, a result arriving while a turn
// is already in flight is dropped.
func (o *Orchestrator) onSTTResult(r stt.Result) {
	if o.processing.Load() {
		o.logger.Warn("stt result dropped: a turn is already processing", "text", r.Text)
		return
	}
	o.submit(events.TypeSTTResult, map[string]any{
		"text":             r.Text,
		"confidence":       r.Confidence,
		"duration_seconds": r.DurationSeconds,
		"language":         r.Language,
	}, events.PriorityNormal)
	o.ProcessUserInput(context.Background(), r.Text)
}

// ProcessUserInput drives one full pass through the per-turn state
// machine: INGEST, CONTEXT, LLM-1, optionally TOOL/LLM-2, CLEAN,
// COMMIT, QUEUE. It sets the processing gate on entry and clears it on
// every exit path, including errors.
func (o *Orchestrator) ProcessUserInput(ctx context.Context, text string) {
	if !o.processing.CompareAndSwap(false, true) {
		o.logger.Warn("process user input called while already processing, ignoring", "text", text)
		return
	}
	defer o.processing.Store(false)

	if o.tracker != nil {
		o.tracker.MarkComponent("orchestrator", "process_input", true)
		defer o.tracker.MarkComponent("orchestrator", "process_input", false)
	}

	// INGEST
	o.workingLog.AddTurn(memory.RoleUser, text)
	o.submit(events.TypeConversationTurn, map[string]any{"role": memory.RoleUser, "content": text}, events.PriorityHigh)

	if o.longterm != nil {
		if _, err := o.longterm.EncodeAndAdd(ctx, memory.Turn{Role: memory.RoleUser, Content: text}); err != nil {
			o.logger.Warn("encode turn into long-term memory failed", "error", err)
		}
	}

	// CONTEXT
	budget := o.cfg.ContextTokenBudget
	turns := o.workingLog.Context(budget)
	messages := toLLMMessages(turns)

	// LLM-1
	raw, err := o.runChat(ctx, messages, routerRequest{query: text, needsTools: true, mission: "conversation"})
	if err != nil {
		o.handleLLMError(ctx, err)
		return
	}

	// Tool detection and, if needed, dispatch + pass 2. A call that
	// doesn't name a registered tool (or one of the built-in time/date
	// names) isn't a real tool call — fall back to the raw pass-1 text
	// exactly as if no tool_call had been detected.
	response := raw
	if call, ok := tools.ExtractToolCall(raw); ok && o.isKnownTool(call.Name) {
		o.submit(events.TypeLLMResult, map[string]any{"text": raw, "has_tool_calls": true}, events.PriorityNormal)
		response = o.runToolPass(ctx, text, call)
	} else {
		o.submit(events.TypeLLMResult, map[string]any{"text": raw, "has_tool_calls": false}, events.PriorityNormal)
	}

	// CLEAN
	clean := scrubResponse(response, "")

	// COMMIT
	o.workingLog.AddTurn(memory.RoleAssistant, clean)
	o.submit(events.TypeConversationTurn, map[string]any{"role": memory.RoleAssistant, "content": clean}, events.PriorityHigh)
	if o.longterm != nil {
		if _, err := o.longterm.EncodeAndAdd(ctx, memory.Turn{Role: memory.RoleAssistant, Content: clean}); err != nil {
			o.logger.Warn("encode assistant turn into long-term memory failed", "error", err)
		}
	}

	// QUEUE
	o.enqueueSpeak(clean)

	if o.tracker != nil {
		o.tracker.EmitLatencyTrace()
	}
}

// routerRequest carries the hints runChat forwards to the optional
// router for per-pass model selection.
type routerRequest struct {
	query       string
	needsTools  bool
	mission     string
	preferSpeed bool
}

// selectModel asks the router for a model when one is configured,
// otherwise pins to cfg.Model. Pass 1 (tool detection) and pass 2
// (summarization) each supply different hints via req.
func (o *Orchestrator) selectModel(ctx context.Context, req routerRequest) string {
	if o.router == nil {
		return o.cfg.Model
	}
	hints := map[string]string{router.HintMission: req.mission, router.HintChannel: "voice"}
	if req.preferSpeed {
		hints[router.HintPreferSpeed] = "true"
	}
	model, _ := o.router.Route(ctx, router.Request{
		Query:      req.query,
		NeedsTools: req.needsTools,
		Priority:   router.PriorityInteractive,
		Hints:      hints,
	})
	return model
}

// runChat performs one streaming chat call against the configured
// system prompt plus the assembled context, emitting llm_start,
// llm_token (per chunk), and returning the concatenated raw text.
// llm_result is emitted by the caller once it knows whether a tool
// call was detected.
func (o *Orchestrator) runChat(ctx context.Context, messages []llm.Message, req routerRequest) (string, error) {
	model := o.selectModel(ctx, req)
	o.submit(events.TypeLLMStart, map[string]any{"model": model}, events.PriorityNormal)
	if o.tracker != nil {
		o.tracker.MarkComponent("llm", "generate_response", true)
		defer o.tracker.MarkComponent("llm", "generate_response", false)
	}

	var raw string
	tokenIndex := 0
	resp, err := o.llmClient.ChatStream(ctx, model, messages, nil, func(token string) {
		raw += token
		o.submit(events.TypeLLMToken, map[string]any{"token": token, "index": tokenIndex}, events.PriorityNormal)
		tokenIndex++
	})
	if err != nil {
		return "", err
	}
	o.recordUsage(ctx, model, resp)
	return raw, nil
}

// recordUsage persists one token-usage record per chat call when a
// usage store is configured. Failures are logged, never propagated —
// losing a usage row must not fail the turn that produced it.
func (o *Orchestrator) recordUsage(ctx context.Context, model string, resp *llm.ChatResponse) {
	if o.usage == nil || resp == nil {
		return
	}
	cost := usage.ComputeCost(model, resp.InputTokens, resp.OutputTokens, o.pricing)
	err := o.usage.Record(ctx, usage.Record{
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		Role:         "interactive",
	})
	if err != nil {
		o.logger.Warn("record usage failed", "model", model, "error", err)
	}
}

// isKnownTool reports whether name refers to a dispatchable tool: one
// of the built-in time/date names runToolPass special-cases, or a name
// (possibly an alias) registered in the registry. A call extracted
// from LLM output that names neither is not treated as a tool call.
func (o *Orchestrator) isKnownTool(name string) bool {
	switch name {
	case "get_time", "current_time", "what_time_is_it", "get_date", "current_date", "todays_date":
		return true
	}
	return o.registry.Get(name) != nil
}

// runToolPass executes TOOL then LLM-2: dispatch the detected call
// (recomputing time/date freshly rather than trusting whatever the
// first pass echoed back), then re-invoke chat with a minimal
// summarization-only context.
func (o *Orchestrator) runToolPass(ctx context.Context, originalQuery string, call tools.ToolCall) string {
	o.submit(events.TypeToolCall, map[string]any{"name": call.Name, "args": call.Args}, events.PriorityHigh)
	if o.tracker != nil {
		o.tracker.MarkComponent("tool", call.Name, true)
	}

	var result string
	switch call.Name {
	case "get_time", "current_time", "what_time_is_it":
		result = fmt.Sprintf("It's %s.", time.Now().Format("15:04"))
	case "get_date", "current_date", "todays_date":
		result = fmt.Sprintf("Today is %s.", time.Now().Format("Monday, January 2, 2006"))
	default:
		result = o.registry.Execute(ctx, call.Name, call.Args)
	}

	if o.tracker != nil {
		o.tracker.MarkComponent("tool", call.Name, false)
	}
	o.mu.Lock()
	o.lastToolUsed = call.Name
	o.mu.Unlock()
	o.submit(events.TypeToolResult, map[string]any{"name": call.Name, "result": result}, events.PriorityHigh)

	messages := []llm.Message{
		{Role: memory.RoleSystem, Content: summarizationPrompt},
		{Role: memory.RoleSystem, Content: "[TOOL RESULT] " + result},
		{Role: memory.RoleUser, Content: originalQuery},
	}

	summary, err := o.runChat(ctx, messages, routerRequest{query: originalQuery, needsTools: false, mission: "conversation", preferSpeed: true})
	if err != nil {
		o.logger.Error("summarization pass failed, falling back to raw tool result", "tool", call.Name, "error", err)
		o.submit(events.TypeLLMResult, map[string]any{"text": result, "has_tool_calls": true}, events.PriorityNormal)
		return result
	}
	o.submit(events.TypeLLMResult, map[string]any{"text": summary, "has_tool_calls": true}, events.PriorityNormal)
	return summary
}

// handleLLMError implements the LLM error path from spec's error
// taxonomy: emit llm_error, commit a canned apology to memory and TTS,
// and return to IDLE (the processing gate releases via the caller's
// defer).
func (o *Orchestrator) handleLLMError(ctx context.Context, err error) {
	o.logger.Error("llm call failed", "error", err)
	o.submit(events.TypeLLMError, map[string]any{"error": err.Error()}, events.PriorityHigh)

	apology := "I'm sorry, I ran into a problem answering that."
	o.workingLog.AddTurn(memory.RoleAssistant, apology)
	o.submit(events.TypeConversationTurn, map[string]any{"role": memory.RoleAssistant, "content": apology}, events.PriorityHigh)
	o.enqueueSpeak(apology)
}

// toLLMMessages converts working-log turns into the llm.Message shape.
func toLLMMessages(turns []memory.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// enqueueSpeak pushes text onto the TTS worker's bounded queue.
// Per the TTS worker's documented shutdown policy, this is a no-op
// once the orchestrator has started shutting down.
func (o *Orchestrator) enqueueSpeak(text string) {
	if !o.running.Load() {
		return
	}
	select {
	case o.speakQueue <- text:
	default:
		o.logger.Warn("speak queue full, dropping reply", "text_preview", previewText(text))
	}
}

func previewText(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

// runSpeakQueue is the long-lived TTS worker: it drains speakQueue for
// the orchestrator's lifetime, invoking the speaker for each item.
// On shutdown it drains whatever remains in the channel rather than
// discarding it, since a reply queued before shutdown was already
// promised to the user.
func (o *Orchestrator) runSpeakQueue() {
	defer o.wg.Done()
	for {
		select {
		case text, ok := <-o.speakQueue:
			if !ok {
				return
			}
			o.speak(text)
		case <-o.stopCh:
			o.drainSpeakQueue()
			return
		}
	}
}

func (o *Orchestrator) drainSpeakQueue() {
	for {
		select {
		case text := <-o.speakQueue:
			o.speak(text)
		default:
			return
		}
	}
}

func (o *Orchestrator) speak(text string) {
	if o.speaker == nil {
		return
	}
	o.submit(events.TypeTTSStart, map[string]any{"text": text}, events.PriorityNormal)
	if o.tracker != nil {
		o.tracker.MarkComponent("tts", "speak", true)
		defer o.tracker.MarkComponent("tts", "speak", false)
	}

	result, err := o.speaker.Speak(context.Background(), text, func(pct float64) {
		o.submit(events.TypeTTSProgress, map[string]any{"percent_complete": pct}, events.PriorityNormal)
	})
	if err != nil {
		o.submit(events.TypeTTSError, map[string]any{"error": err.Error()}, events.PriorityHigh)
		return
	}
	o.submit(events.TypeTTSResult, map[string]any{
		"duration_seconds":       0.0,
		"audio_duration_seconds": result.AudioDurationSeconds,
		"char_count":             result.CharCount,
	}, events.PriorityNormal)
}

// Interrupt implements the tts_stop cancellation path: the currently
// playing utterance (if any) is cancelled via the speaker and the
// worker advances to the next queued item on its own.
func (o *Orchestrator) Interrupt(reason string) {
	if o.speaker != nil {
		if err := o.speaker.StopCurrent(); err != nil {
			o.logger.Warn("tts stop failed", "error", err)
		}
	}
	o.submit(events.TypeTTSStop, map[string]any{"reason": reason}, events.PriorityHigh)
}

// Shutdown runs the documented shutdown sequence: flip running false,
// stop STT, close TTS, flush long-term memory, join the TTS worker
// (bounded), and return. Stopping the WS server and process exit are
// the caller's responsibility (cmd/coda's main).
func (o *Orchestrator) Shutdown() error {
	o.running.Store(false)

	if o.transcriber != nil {
		if err := o.transcriber.Stop(); err != nil {
			o.logger.Warn("stop transcriber failed", "error", err)
		}
	}
	close(o.stopCh)

	if o.longterm != nil {
		if err := o.longterm.SaveMetadata(); err != nil {
			o.logger.Error("flush long-term memory failed during shutdown", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ttsJoinTimeout):
		o.logger.Warn("tts worker join timed out during shutdown")
	}

	if o.speaker != nil {
		if err := o.speaker.Close(); err != nil {
			return fmt.Errorf("shutdown: close tts: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) submit(eventType string, data map[string]any, priority events.Priority) {
	if o.bus == nil {
		return
	}
	o.bus.Submit(eventType, data, priority)
}
