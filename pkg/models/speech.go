// Package models contains shared data models used across the audiobooker codebase.
package models

import (
	"context"
	"time"
)

// SpeechModel is the opaque synthesis capability. Implementations talk to the real
// text-to-speech model; callers never depend on a concrete backend.
type SpeechModel interface {
	// Load acquires the model. It may be slow and is expected to be called once.
	Load(ctx context.Context) error
	// Generate synthesizes text into a waveform conditioned on the given segments.
	Generate(ctx context.Context, req GenerateRequest) (Waveform, error)
	// Name returns the backend identifier (e.g., "http").
	Name() string
}

// GenerateRequest is the input to a single synthesis call.
type GenerateRequest struct {
	Text             string
	Speaker          int
	Context          []Segment
	MaxAudioLengthMS int
}

// Segment is one conditioning entry: a reference phrase and the audio that speaks it.
type Segment struct {
	Text    string
	Speaker int
	Audio   Waveform
}

// Waveform is mono PCM audio as float samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Empty reports whether the waveform carries no samples.
func (w Waveform) Empty() bool { return len(w.Samples) == 0 }

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}
