package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codalite/coda/internal/config"
	"github.com/codalite/coda/internal/events"
	"github.com/codalite/coda/internal/memory"
	"github.com/codalite/coda/internal/stt"
	"github.com/codalite/coda/internal/tools"
	"github.com/codalite/coda/internal/tts"
	"github.com/codalite/coda/internal/usage"
)

func newTestOrchestrator(t *testing.T, responses []string) (*Orchestrator, *events.Bus, *tts.MockSpeaker) {
	t.Helper()
	bus := events.New()
	reg := tools.NewRegistry()
	if err := reg.Register(&tools.Tool{
		Name: "tell_joke",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "why did the chicken cross the road", nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	speaker := tts.NewMockSpeaker()
	wl := memory.NewWorkingLog(20, nil)

	o, err := NewOrchestrator(Config{Model: "test-model"}, Deps{
		LLMClient:  &scriptedLLM{responses: responses},
		Speaker:    speaker,
		WorkingLog: wl,
		Registry:   reg,
		Bus:        bus,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o, bus, speaker
}

func TestProcessUserInput_NoToolCallOrdering(t *testing.T) {
	o, bus, speaker := newTestOrchestrator(t, []string{"Hello there, nice to see you!"})
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	o.ProcessUserInput(context.Background(), "hi")

	var types []string
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
			if e.Type == events.TypeTTSResult {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	want := []string{
		events.TypeConversationTurn, // user
		events.TypeLLMStart,
		events.TypeLLMToken,
		events.TypeLLMResult,
		events.TypeConversationTurn, // assistant
		events.TypeTTSStart,
		events.TypeTTSProgress, // MockSpeaker reports a single 100% tick
		events.TypeTTSResult,
	}
	if len(types) != len(want) {
		t.Fatalf("got event sequence %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (full: %v)", i, types[i], want[i], types)
		}
	}

	spoken := speaker.Spoken()
	if len(spoken) != 1 {
		t.Fatalf("expected exactly one utterance spoken, got %v", spoken)
	}
}

func TestProcessUserInput_ToolCallDispatchesAndSummarizes(t *testing.T) {
	toolCallResponse := `{"tool_call": {"name": "tell_joke", "args": {}}}`
	o, bus, _ := newTestOrchestrator(t, []string{toolCallResponse, "Here's a joke for you."})
	gotEvents := drainEventsAsync(t, bus, func() {
		o.ProcessUserInput(context.Background(), "tell me a joke")
	})

	var sawToolCall, sawToolResult bool
	for _, e := range gotEvents {
		if e.Type == "tool_call" {
			sawToolCall = true
		}
		if e.Type == "tool_result" {
			sawToolResult = true
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected tool_call and tool_result events, got %v", eventTypes(gotEvents))
	}
	if o.LastToolUsed() != "tell_joke" {
		t.Fatalf("LastToolUsed() = %q, want tell_joke", o.LastToolUsed())
	}
}

func TestProcessUserInput_RecordsUsageWithComputedCost(t *testing.T) {
	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("usage.NewStore: %v", err)
	}
	defer store.Close()

	bus := events.New()
	reg := tools.NewRegistry()
	wl := memory.NewWorkingLog(20, nil)

	o, err := NewOrchestrator(Config{Model: "test-model"}, Deps{
		LLMClient:  &scriptedLLM{responses: []string{"Hello there!"}, inputTokens: 100, outputTokens: 50},
		Speaker:    tts.NewMockSpeaker(),
		WorkingLog: wl,
		Registry:   reg,
		Bus:        bus,
		UsageStore: store,
		Pricing: map[string]config.PricingEntry{
			"test-model": {InputPerMillion: 3, OutputPerMillion: 15},
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	drainEventsAsync(t, bus, func() {
		o.ProcessUserInput(context.Background(), "hi")
	})

	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Minute)
	summary, err := store.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalRecords != 1 {
		t.Fatalf("expected 1 usage record, got %d", summary.TotalRecords)
	}
	wantCost := 100.0/1_000_000*3 + 50.0/1_000_000*15
	if summary.TotalCostUSD != wantCost {
		t.Fatalf("TotalCostUSD = %v, want %v", summary.TotalCostUSD, wantCost)
	}
}

func TestProcessUserInput_DropsOverlappingTurns(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, []string{"first", "second"})
	o.processing.Store(true)
	o.ProcessUserInput(context.Background(), "should be ignored")
	if o.workingLog.Len() != 1 { // just the seeded system turn
		t.Fatalf("expected no turn appended while processing gate is held, got %d turns", o.workingLog.Len())
	}
}

func TestOnSTTResult_DroppedWhileProcessing(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, []string{"reply"})
	o.processing.Store(true)
	o.onSTTResult(stt.Result{Text: "ignored"})
	if o.workingLog.Len() != 1 {
		t.Fatalf("expected stt result to be dropped while processing, got %d turns", o.workingLog.Len())
	}
}

func TestShutdown_ClosesSpeakerOnce(t *testing.T) {
	o, _, speaker := newTestOrchestrator(t, []string{"hello"})
	o.enqueueSpeak("queued before shutdown")
	if err := o.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if speaker.CloseCalls() != 1 {
		t.Fatalf("expected speaker.Close to be called once, got %d", speaker.CloseCalls())
	}
}

func eventTypes(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func drainEventsAsync(t *testing.T, bus *events.Bus, fn func()) []events.Event {
	t.Helper()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	<-done

	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}
