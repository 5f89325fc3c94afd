// Package perf tracks latency markers and system resource samples for
// the orchestration pipeline, and feeds both onto the event bus so a
// connected observer can render a live latency trace.
package perf

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/codalite/coda/internal/events"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// componentSample is one completed component.operation duration.
type componentSample struct {
	operation string
	duration  time.Duration
}

// OperationStats summarizes the recorded durations for one
// component.operation pair.
type OperationStats struct {
	Count    int
	AvgMs    float64
	MinMs    float64
	MaxMs    float64
	TotalMs  float64
}

// LatencyTrace is a snapshot of the most recent stage durations,
// distinguishing processing time from raw audio length per the
// detail floor on timings.
type LatencyTrace struct {
	Timestamp         time.Time
	STTSeconds        float64
	LLMSeconds        float64
	TTSSeconds        float64
	ToolSeconds       float64
	MemorySeconds     float64
	TotalSeconds      float64
	STTAudioDuration  float64
	TTSAudioDuration  float64
	TotalInteraction  float64
}

// SystemMetrics is one sample of process/host resource usage.
type SystemMetrics struct {
	Timestamp        time.Time
	UptimeSeconds    float64
	CPUPercent       float64
	ProcessCPU       float64
	ProcessMemoryMB  float64
	ProcessThreads   int32
}

// Tracker records named time markers and periodically samples system
// resources. The zero value is not usable; construct with New.
type Tracker struct {
	logger *slog.Logger
	bus    *events.Bus

	mu               sync.Mutex
	markers          map[string]time.Time
	audioDurations   map[string]float64
	componentSamples map[string][]componentSample
	operationCounts  map[string]int
	sessionStart     time.Time

	samplingInterval time.Duration
	stopCh           chan struct{}
	wg               sync.WaitGroup
	running          bool
}

var (
	singletonOnce sync.Once
	singleton     *Tracker
)

// Get returns the process-wide tracker, constructing it on first call.
// A single tracker instance per process is sufficient; its lifetime
// spans the program.
func Get(logger *slog.Logger, bus *events.Bus, samplingInterval time.Duration) *Tracker {
	singletonOnce.Do(func() {
		singleton = New(logger, bus, samplingInterval)
	})
	return singleton
}

// New constructs a standalone tracker. Most callers want Get; New is
// exposed directly for tests that need an isolated instance.
func New(logger *slog.Logger, bus *events.Bus, samplingInterval time.Duration) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if samplingInterval <= 0 {
		samplingInterval = 5 * time.Second
	}
	return &Tracker{
		logger:           logger,
		bus:              bus,
		markers:          make(map[string]time.Time),
		audioDurations:   make(map[string]float64),
		componentSamples: make(map[string][]componentSample),
		operationCounts:  make(map[string]int),
		sessionStart:     time.Now(),
		samplingInterval: samplingInterval,
		stopCh:           make(chan struct{}),
	}
}

// Mark records the current time against name and returns it.
func (t *Tracker) Mark(name string) time.Time {
	now := time.Now()
	t.mu.Lock()
	t.markers[name] = now
	t.mu.Unlock()
	return now
}

// MarkComponent marks the start or end of a component operation. On
// end it computes the duration since the matching start marker,
// records it, increments the operation's counter on start, and emits
// a component_timing event on the bus.
func (t *Tracker) MarkComponent(component, operation string, start bool) {
	phase := "start"
	if !start {
		phase = "end"
	}
	markerName := fmt.Sprintf("%s.%s.%s", component, operation, phase)
	t.Mark(markerName)

	if start {
		t.mu.Lock()
		t.operationCounts[component+"."+operation]++
		t.mu.Unlock()
		return
	}

	startMarker := fmt.Sprintf("%s.%s.start", component, operation)
	d := t.Duration(startMarker, markerName)

	t.mu.Lock()
	key := component + "." + operation
	t.componentSamples[key] = append(t.componentSamples[key], componentSample{operation: operation, duration: d})
	t.mu.Unlock()

	t.logger.Debug("component timing", "component", component, "operation", operation, "duration", d)
	t.bus.Submit(events.TypeComponentTiming, map[string]any{
		"component":        component,
		"operation":        operation,
		"duration_seconds": d.Seconds(),
	}, events.PriorityNormal)
}

// Duration returns the elapsed time between two markers, or zero if
// either is missing. Never errors; a missing marker simply yields no
// signal rather than crashing the caller mid-pipeline.
func (t *Tracker) Duration(startMarker, endMarker string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.markers[startMarker]
	if !ok {
		return 0
	}
	end, ok := t.markers[endMarker]
	if !ok {
		return 0
	}
	return end.Sub(start)
}

// ComponentStats summarizes every recorded operation for component, or
// for all components when component is empty.
func (t *Tracker) ComponentStats(component string) map[string]OperationStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OperationStats)
	for key, samples := range t.componentSamples {
		if component != "" && !hasPrefix(key, component+".") {
			continue
		}
		if len(samples) == 0 {
			continue
		}
		var total, min, max float64
		min = samples[0].duration.Seconds() * 1000
		for i, s := range samples {
			ms := s.duration.Seconds() * 1000
			total += ms
			if i == 0 || ms < min {
				min = ms
			}
			if ms > max {
				max = ms
			}
		}
		out[key] = OperationStats{
			Count:   t.operationCounts[key],
			AvgMs:   total / float64(len(samples)),
			MinMs:   min,
			MaxMs:   max,
			TotalMs: total,
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Reset clears all markers and statistics and restarts the session
// clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markers = make(map[string]time.Time)
	t.audioDurations = make(map[string]float64)
	t.componentSamples = make(map[string][]componentSample)
	t.operationCounts = make(map[string]int)
	t.sessionStart = time.Now()
}

// LatencyTrace snapshots the most recent stage durations, falling back
// to the legacy flat marker names ("stt_start"/"stt_end") when the
// component markers are unavailable.
func (t *Tracker) LatencyTrace() LatencyTrace {
	stt := t.Duration("stt.process.start", "stt.process.end")
	if stt == 0 {
		stt = t.Duration("stt_start", "stt_end")
	}
	llm := t.Duration("llm.generate_response.start", "llm.generate_response.end")
	if llm == 0 {
		llm = t.Duration("llm_start", "llm_end")
	}
	tts := t.Duration("tts.synthesize.start", "tts.synthesize.end")
	if tts == 0 {
		tts = t.Duration("tts_start", "tts_end")
	}
	tool := t.Duration("tool_start", "tool_end")
	mem := t.Duration("memory_start", "memory_end")

	t.mu.Lock()
	sttAudio := t.audioDurations["stt_audio_duration"]
	ttsAudio := t.audioDurations["tts_audio_duration"]
	t.mu.Unlock()

	total := stt.Seconds() + llm.Seconds() + tts.Seconds()
	if tool > 0 {
		total += tool.Seconds()
	}
	if mem > 0 {
		total += mem.Seconds()
	}

	return LatencyTrace{
		Timestamp:        time.Now(),
		STTSeconds:       stt.Seconds(),
		LLMSeconds:       llm.Seconds(),
		TTSSeconds:       tts.Seconds(),
		ToolSeconds:      tool.Seconds(),
		MemorySeconds:    mem.Seconds(),
		TotalSeconds:     total,
		STTAudioDuration: sttAudio,
		TTSAudioDuration: ttsAudio,
		TotalInteraction: total + sttAudio + ttsAudio,
	}
}

// EmitLatencyTrace snapshots the current trace and submits it on the
// bus as a latency_trace event, per the field names in spec.md §6.
func (t *Tracker) EmitLatencyTrace() LatencyTrace {
	trace := t.LatencyTrace()
	t.bus.Submit(events.TypeLatencyTrace, map[string]any{
		"stt_seconds":                trace.STTSeconds,
		"llm_seconds":                trace.LLMSeconds,
		"tts_seconds":                trace.TTSSeconds,
		"total_processing_seconds":   trace.TotalSeconds,
		"tts_audio_duration":         trace.TTSAudioDuration,
		"stt_audio_duration":         trace.STTAudioDuration,
		"total_interaction_seconds":  trace.TotalInteraction,
	}, events.PriorityNormal)
	return trace
}

// MarkAudioDuration records a raw audio-length measurement (microphone
// capture or synthesized speech) under name, distinct from a
// Mark/MarkComponent processing-time marker.
func (t *Tracker) MarkAudioDuration(name string, d time.Duration) {
	t.mu.Lock()
	t.audioDurations[name] = d.Seconds()
	t.mu.Unlock()
}

// SystemMetrics samples current CPU and process resource usage.
func (t *Tracker) SystemMetrics(ctx context.Context) SystemMetrics {
	t.mu.Lock()
	uptime := time.Since(t.sessionStart).Seconds()
	t.mu.Unlock()

	m := SystemMetrics{
		Timestamp:     time.Now(),
		UptimeSeconds: uptime,
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			m.ProcessCPU = pct
		}
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			m.ProcessMemoryMB = float64(mi.RSS) / (1024 * 1024)
		}
		if n, err := proc.NumThreadsWithContext(ctx); err == nil {
			m.ProcessThreads = n
		}
	}

	return m
}

// Start begins the background sampling loop, emitting a system_metrics
// event on the bus every samplingInterval. Calling Start twice logs a
// warning and is otherwise a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.logger.Warn("perf tracker sampling already running")
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.samplingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				m := t.SystemMetrics(ctx)
				t.logger.Debug("system metrics", "cpu_percent", m.CPUPercent, "process_memory_mb", m.ProcessMemoryMB)
				t.bus.Submit(events.TypeSystemMetrics, map[string]any{
					"memory_mb":         m.ProcessMemoryMB,
					"cpu_percent":       m.CPUPercent,
					"process_cpu":       m.ProcessCPU,
					"process_memory_mb": m.ProcessMemoryMB,
					"process_threads":   m.ProcessThreads,
					"uptime_seconds":    m.UptimeSeconds,
				}, events.PriorityNormal)
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
}
