// Package events provides a publish/subscribe event bus for the
// orchestration pipeline. Events flow from any component (orchestrator,
// tool router, scheduler, performance tracker) to subscribers — chiefly
// the WebSocket fan-out server. The bus is nil-safe: calling Submit on
// a nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Type constants identify the kind of event within the pipeline. These
// match the ordering property the orchestrator's turn state machine is
// required to produce: conversation_turn, llm_start, llm_token*,
// llm_result, then (if a tool was called) tool_call, tool_result,
// llm_start, llm_token*, llm_result, then the assistant's
// conversation_turn, tts_start, tts_progress*, tts_result.
const (
	// Lifecycle
	TypeConversationStart = "conversation_start"
	TypeConversationEnd   = "conversation_end"
	TypeConversationTurn  = "conversation_turn"
	TypeSystemInfo        = "system_info"
	TypeSystemError       = "system_error"

	// STT
	TypeSTTStart   = "stt_start"
	TypeSTTInterim = "stt_interim"
	TypeSTTResult  = "stt_result"
	TypeSTTError   = "stt_error"

	// LLM
	TypeLLMStart  = "llm_start"
	TypeLLMToken  = "llm_token"
	TypeLLMResult = "llm_result"
	TypeLLMError  = "llm_error"

	// TTS
	TypeTTSStart    = "tts_start"
	TypeTTSProgress = "tts_progress"
	TypeTTSResult   = "tts_result"
	TypeTTSError    = "tts_error"
	TypeTTSStop     = "tts_stop"
	TypeTTSStatus   = "tts_status"

	// Memory
	TypeMemoryStore    = "memory_store"
	TypeMemoryRetrieve = "memory_retrieve"
	TypeMemoryUpdate   = "memory_update"

	// Tools
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeToolError  = "tool_error"

	// Telemetry
	TypeSystemMetrics   = "system_metrics"
	TypeComponentTiming = "component_timing"
	TypeComponentStats  = "component_stats"
	TypeLatencyTrace    = "latency_trace"

	// Transport
	TypeClientMessage = "client_message"
	TypeReplay        = "replay"
)

// Priority controls whether an event enters the replay buffer.
type Priority int

const (
	// PriorityNormal events are broadcast live only.
	PriorityNormal Priority = iota
	// PriorityHigh events are additionally retained in the replay
	// buffer for delivery to newly connected observers.
	PriorityHigh
)

// protocolVersion is the envelope's "version" field.
const protocolVersion = "1.0"

// Event is a typed payload broadcast to observers. The JSON shape
// matches the wire envelope exactly: version, seq, timestamp, type,
// data.
type Event struct {
	Version   string         `json:"version"`
	Seq       int64          `json:"seq"`
	Timestamp float64        `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`

	// priority is not part of the wire envelope; it only controls
	// replay-buffer admission.
	priority Priority
}

const replayBufferCapacity = 50

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers. A fixed-capacity replay buffer retains the
// most recent high-priority events for delivery to late joiners.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event without an illegal type conversion.
	recvToSend map[<-chan Event]chan Event

	seq    int64
	replay []Event

	epoch time.Time
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		epoch:      time.Now(),
	}
}

// Submit assigns the next sequence number and timestamp to an event
// and broadcasts it to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber only. Safe to call on a nil receiver (no-op), so
// components can hold a *Bus field without nil checks.
func (b *Bus) Submit(eventType string, data map[string]any, priority Priority) Event {
	if b == nil {
		return Event{}
	}
	b.mu.Lock()
	b.seq++
	e := Event{
		Version:   protocolVersion,
		Seq:       b.seq,
		Timestamp: time.Since(b.epoch).Seconds(),
		Type:      eventType,
		Data:      data,
		priority:  priority,
	}
	if priority == PriorityHigh {
		b.replay = append(b.replay, e)
		if len(b.replay) > replayBufferCapacity {
			b.replay = b.replay[len(b.replay)-replayBufferCapacity:]
		}
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block
			// the publisher. Only non-replay delivery is best-effort;
			// the replay buffer above already has the durable copy.
		}
	}
	return e
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// Replay returns a snapshot of the current replay buffer, oldest
// first, in submission order.
func (b *Bus) Replay() []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.replay))
	copy(out, b.replay)
	return out
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
