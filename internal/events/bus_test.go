package events

import "testing"

func TestBus_SequenceNumbersStrictlyIncreasing(t *testing.T) {
	b := New()
	var last int64
	for i := 0; i < 10; i++ {
		e := b.Submit(TypeLLMToken, nil, PriorityNormal)
		if e.Seq <= last {
			t.Fatalf("expected seq > %d, got %d", last, e.Seq)
		}
		last = e.Seq
	}
}

func TestBus_ReplayBufferOnlyHoldsHighPriority(t *testing.T) {
	b := New()
	b.Submit(TypeLLMToken, nil, PriorityNormal)
	b.Submit(TypeConversationTurn, nil, PriorityHigh)
	b.Submit(TypeLLMToken, nil, PriorityNormal)

	replay := b.Replay()
	if len(replay) != 1 {
		t.Fatalf("expected 1 replayed event, got %d", len(replay))
	}
	if replay[0].Type != TypeConversationTurn {
		t.Errorf("expected %q, got %q", TypeConversationTurn, replay[0].Type)
	}
}

func TestBus_ReplayBufferTrimmedFromHead(t *testing.T) {
	b := New()
	for i := 0; i < replayBufferCapacity+5; i++ {
		b.Submit(TypeConversationTurn, map[string]any{"i": i}, PriorityHigh)
	}
	replay := b.Replay()
	if len(replay) != replayBufferCapacity {
		t.Fatalf("expected %d events, got %d", replayBufferCapacity, len(replay))
	}
	if replay[0].Data["i"] != 5 {
		t.Errorf("expected oldest surviving event to be index 5, got %v", replay[0].Data["i"])
	}
}

func TestBus_ReplayDeliveredInSubmissionOrder(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Submit(TypeConversationTurn, map[string]any{"i": i}, PriorityHigh)
	}
	replay := b.Replay()
	if len(replay) != 5 {
		t.Fatalf("expected 5 events, got %d", len(replay))
	}
	for i, e := range replay {
		if e.Data["i"] != i {
			t.Errorf("event %d: expected i=%d, got %v", i, i, e.Data["i"])
		}
	}
}

func TestBus_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Submit(TypeLLMToken, nil, PriorityNormal)
	b.Submit(TypeLLMToken, nil, PriorityNormal) // channel full, should drop, not block

	select {
	case <-ch:
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	b.Submit(TypeLLMToken, nil, PriorityNormal)
	_ = b.Replay()
	_ = b.SubscriberCount()
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	b.Unsubscribe(ch)
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", got)
	}
}
