package memory

import (
	"regexp"
	"strings"
)

// candidate is a memory record proposed by the encoder before it is
// persisted via [Archive.Add].
type Candidate struct {
	Content    string
	SourceType SourceType
	Importance float64
	Topics     []string
}

// Encoder turns a conversation window (a contiguous run of turns) into
// candidate memory records using lightweight heuristics, the same
// approach the reference implementation's fact-extraction pass takes:
// presence of self-referential patterns boosts importance and tags
// the `name` topic; preference language boosts importance and tags
// `preferences`. This is deliberately not an LLM call — the two-pass
// tool protocol already has an LLM budget; encoding runs on every
// turn and must stay cheap.
type Encoder struct {
	baseImportance float64
}

// NewEncoder creates an Encoder with the reference default base
// importance (0.3) for turns that don't match any heuristic boost.
func NewEncoder() *Encoder {
	return &Encoder{baseImportance: 0.3}
}

var (
	selfReferentialPattern = regexp.MustCompile(`(?i)\bmy name is\b|\bi am called\b|\bi'm called\b|\bcall me\b`)
	preferencePattern      = regexp.MustCompile(`(?i)\bi (?:prefer|like|love|hate|dislike)\b|\bfavorite\b|\bfavourite\b`)
)

// Encode inspects a single user turn and, if it is worth persisting,
// returns a candidate record. The worth-persisting gate mirrors the
// reference extractor's top-level ExtractionResult.WorthPersisting
// flag: very short or purely conversational turns produce no
// candidate at all.
func (e *Encoder) Encode(turn Turn) (Candidate, bool) {
	content := strings.TrimSpace(turn.Content)
	if turn.Role != RoleUser || len(content) < 8 {
		return Candidate{}, false
	}

	importance := e.baseImportance
	var topics []string

	if selfReferentialPattern.MatchString(content) {
		importance += 0.4
		topics = append(topics, "name")
	}
	if preferencePattern.MatchString(content) {
		importance += 0.25
		topics = append(topics, "preferences")
	}

	if len(topics) == 0 {
		// No heuristic matched — not confident enough to persist
		// automatically. Explicit remember_fact calls bypass the
		// encoder entirely and always persist.
		return Candidate{}, false
	}

	return Candidate{
		Content:    content,
		SourceType: SourceConversation,
		Importance: clampImportance(importance),
		Topics:     topics,
	}, true
}
