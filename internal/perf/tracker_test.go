package perf

import (
	"context"
	"testing"
	"time"
)

func TestTracker_DurationZeroWhenMarkerMissing(t *testing.T) {
	tr := New(nil, nil, time.Second)
	if d := tr.Duration("missing.start", "missing.end"); d != 0 {
		t.Fatalf("expected zero duration, got %v", d)
	}
}

func TestTracker_MarkComponentComputesDuration(t *testing.T) {
	tr := New(nil, nil, time.Second)
	tr.MarkComponent("stt", "process", true)
	time.Sleep(5 * time.Millisecond)
	tr.MarkComponent("stt", "process", false)

	stats := tr.ComponentStats("stt")
	s, ok := stats["stt.process"]
	if !ok {
		t.Fatalf("expected stt.process stats, got %v", stats)
	}
	if s.Count != 1 {
		t.Errorf("expected count 1, got %d", s.Count)
	}
	if s.AvgMs <= 0 {
		t.Errorf("expected positive avg duration, got %f", s.AvgMs)
	}
}

func TestTracker_LatencyTraceFallsBackToLegacyMarkers(t *testing.T) {
	tr := New(nil, nil, time.Second)
	tr.Mark("stt_start")
	time.Sleep(2 * time.Millisecond)
	tr.Mark("stt_end")

	trace := tr.LatencyTrace()
	if trace.STTSeconds <= 0 {
		t.Errorf("expected positive stt seconds, got %f", trace.STTSeconds)
	}
}

func TestTracker_ResetClearsMarkersAndStats(t *testing.T) {
	tr := New(nil, nil, time.Second)
	tr.MarkComponent("llm", "generate_response", true)
	tr.MarkComponent("llm", "generate_response", false)
	tr.Reset()

	if stats := tr.ComponentStats(""); len(stats) != 0 {
		t.Errorf("expected empty stats after reset, got %v", stats)
	}
	if d := tr.Duration("llm.generate_response.start", "llm.generate_response.end"); d != 0 {
		t.Errorf("expected zero duration after reset, got %v", d)
	}
}

func TestTracker_AudioDurationDistinctFromProcessingTime(t *testing.T) {
	tr := New(nil, nil, time.Second)
	tr.MarkAudioDuration("stt_audio_duration", 3*time.Second)

	trace := tr.LatencyTrace()
	if trace.STTAudioDuration != 3.0 {
		t.Errorf("expected stt audio duration 3.0, got %f", trace.STTAudioDuration)
	}
	if trace.STTSeconds != 0 {
		t.Errorf("expected zero stt processing seconds, got %f", trace.STTSeconds)
	}
}

func TestTracker_StartStopIdempotent(t *testing.T) {
	tr := New(nil, nil, 10*time.Millisecond)
	ctx := context.Background()
	tr.Start(ctx)
	tr.Start(ctx) // should warn, not panic or deadlock
	tr.Stop()
	tr.Stop() // should be a no-op
}
