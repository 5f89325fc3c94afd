package memory

import "testing"

func TestWorkingLog_TurnIndicesAreDenseAndIncreasing(t *testing.T) {
	log := NewWorkingLog(5, nil)
	for i := 0; i < 10; i++ {
		turn := log.AddTurn(RoleUser, "hello")
		if turn.Index != i {
			t.Fatalf("turn %d: expected index %d, got %d", i, i, turn.Index)
		}
	}
}

func TestWorkingLog_EvictsOldestUnpinned(t *testing.T) {
	log := NewWorkingLog(2, nil)
	log.AddTurn(RoleSystem, "system prompt")
	log.AddTurn(RoleUser, "first")
	log.AddTurn(RoleAssistant, "second")
	log.AddTurn(RoleUser, "third")

	if got := log.Len(); got != 3 {
		t.Fatalf("expected system turn plus 2-turn window (3), got %d", got)
	}

	ctx := log.Context(10000)
	if len(ctx) != 3 {
		t.Fatalf("expected 3 context turns, got %d", len(ctx))
	}
	if ctx[0].Role != RoleSystem {
		t.Errorf("expected first context turn to be system, got %s", ctx[0].Role)
	}
	if ctx[1].Content != "second" {
		t.Errorf("expected second context turn %q, got %q", "second", ctx[1].Content)
	}
	if ctx[2].Content != "third" {
		t.Errorf("expected third context turn %q, got %q", "third", ctx[2].Content)
	}
}

func TestWorkingLog_ContextRespectsTokenBudget(t *testing.T) {
	log := NewWorkingLog(50, nil)
	log.AddTurn(RoleSystem, "sys")
	for i := 0; i < 5; i++ {
		log.AddTurn(RoleUser, "0123456789012345678901234567890123456789") // ~10 tokens
	}

	ctx := log.Context(15) // room for system (1 token) + one turn
	if len(ctx) < 1 {
		t.Fatalf("expected at least 1 context turn, got %d", len(ctx))
	}
	if ctx[0].Role != RoleSystem {
		t.Errorf("expected first context turn to be system, got %s", ctx[0].Role)
	}
	if len(ctx) > 2 {
		t.Errorf("expected at most 2 context turns within budget, got %d", len(ctx))
	}
}

func TestWorkingLog_ExportImportRoundTrip(t *testing.T) {
	log := NewWorkingLog(10, nil)
	log.AddTurn(RoleSystem, "sys")
	log.AddTurn(RoleUser, "hi")
	log.AddTurn(RoleAssistant, "hello there")

	data, err := log.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	restored := NewWorkingLog(10, nil)
	n, err := restored.Import(data)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 imported turns, got %d", n)
	}
	if restored.Len() != log.Len() {
		t.Errorf("expected restored length %d, got %d", log.Len(), restored.Len())
	}
}

func TestWorkingLog_Reset(t *testing.T) {
	log := NewWorkingLog(10, nil)
	log.AddTurn(RoleUser, "a")
	log.AddTurn(RoleUser, "b")

	n := log.Reset()
	if n != 2 {
		t.Errorf("expected Reset to report 2 cleared turns, got %d", n)
	}
	if log.Len() != 0 {
		t.Errorf("expected empty log after reset, got length %d", log.Len())
	}

	turn := log.AddTurn(RoleUser, "fresh")
	if turn.Index != 0 {
		t.Errorf("expected index sequence to restart after reset, got %d", turn.Index)
	}
}
