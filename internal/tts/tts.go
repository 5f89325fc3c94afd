// Package tts defines the capability boundary the orchestrator's
// speak-queue worker drives for speech synthesis. How a waveform is
// produced — MeloTTS, Dia, ElevenLabs, anything else — is vendor
// territory the core does not prescribe.
package tts

import "context"

// ProgressCallback reports synthesis progress as a percentage in
// [0,100], mirrored into tts_progress events.
type ProgressCallback func(percentComplete float64)

// Result carries the fields tts_result needs that only the adapter
// knows: how long synthesis took versus how long the resulting audio
// plays for, and how many characters were spoken.
type Result struct {
	AudioDurationSeconds float64
	CharCount            int
}

// Speaker is the capability interface a TTS adapter implements. Speak
// synthesizes and plays text, invoking onProgress zero or more times
// before returning. StopCurrent cancels whatever utterance is
// currently playing — the tts_stop interrupt path calls this exactly
// once per interrupt. Close releases any adapter-held resources
// (model handles, audio devices) at shutdown.
type Speaker interface {
	Speak(ctx context.Context, text string, onProgress ProgressCallback) (Result, error)
	StopCurrent() error
	Close() error
}
