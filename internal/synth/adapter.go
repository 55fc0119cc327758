// Package synth wraps the speech model behind a lazily loaded adapter that
// degrades to a deterministic placeholder tone whenever the model cannot help.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

const (
	// SoftTextCap is the length above which the audio budget is widened.
	SoftTextCap = 2000
	// MaxAudioLengthMS caps any length budget derived from text.
	MaxAudioLengthMS = 300000
	msPerChar        = 80

	DefaultSpeaker = 0
)

// Budget returns the audio length budget for a text of textLength characters:
// min(300000, textLength*80) milliseconds.
func Budget(textLength int) int {
	return min(MaxAudioLengthMS, textLength*msPerChar)
}

// LoadState is the cached outcome of acquiring the model: Ready, or Unavailable
// with the cause.
type LoadState struct {
	Ready bool
	Cause error
}

// Source says where a waveform came from.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Synthesis is the outcome of Adapter.Synthesize. Cause is set when the fallback
// was used and explains why.
type Synthesis struct {
	Waveform models.Waveform
	Source   Source
	Cause    error
}

// Empty reports whether no waveform was produced at all.
func (s Synthesis) Empty() bool { return s.Waveform.Empty() }

// Adapter owns the process-wide speech model. It loads the model at most once and
// never lets a model failure escape: every failure becomes a fallback tone.
type Adapter struct {
	model       models.SpeechModel
	loadTimeout time.Duration
	timeout     time.Duration

	// loadMu serializes load attempts; state is readable while one is in flight.
	loadMu sync.Mutex
	state  atomic.Pointer[LoadState]
}

// NewAdapter wraps model. A nil model makes every load Unavailable.
func NewAdapter(model models.SpeechModel, loadTimeout, timeout time.Duration) *Adapter {
	return &Adapter{
		model:       model,
		loadTimeout: loadTimeout,
		timeout:     timeout,
	}
}

// ModelName returns the backend name, or "none" when no model is configured.
func (a *Adapter) ModelName() string {
	if a.model == nil {
		return "none"
	}
	return a.model.Name()
}

// State returns the cached load state without triggering a load.
func (a *Adapter) State() (LoadState, bool) {
	state := a.state.Load()
	if state == nil {
		return LoadState{}, false
	}
	return *state, true
}

// EnsureLoaded acquires the model on first call and caches the result. A failed
// load stays failed for the lifetime of the adapter. Concurrent callers wait for
// the single in-flight attempt.
func (a *Adapter) EnsureLoaded(ctx context.Context) LoadState {
	if state := a.state.Load(); state != nil {
		return *state
	}

	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	if state := a.state.Load(); state != nil {
		return *state
	}

	state := a.load(ctx)
	a.state.Store(&state)
	if state.Ready {
		slog.Info("speech model loaded", "model", a.model.Name())
	} else {
		slog.Error("speech model unavailable, using fallback synthesis", "error", state.Cause)
	}
	return state
}

func (a *Adapter) load(ctx context.Context) (state LoadState) {
	if a.model == nil {
		return LoadState{Cause: fmt.Errorf("%w: no provider configured", ErrModelUnavailable)}
	}

	defer func() {
		if r := recover(); r != nil {
			state = LoadState{Cause: fmt.Errorf("%w: %w: %v", ErrModelUnavailable, ErrModelPanic, r)}
		}
	}()

	// The outcome is cached forever, so a caller's cancellation must not decide it.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.loadTimeout)
	defer cancel()

	if err := a.model.Load(loadCtx); err != nil {
		return LoadState{Cause: fmt.Errorf("%w: %w", ErrModelUnavailable, err)}
	}
	return LoadState{Ready: true}
}

// Synthesize turns text into speech. Texts longer than SoftTextCap widen
// maxLengthMS to Budget(len(text)). When the model is unavailable, fails, or
// returns nothing, the result is a Fallback tone instead; the returned
// Synthesis is therefore never empty.
func (a *Adapter) Synthesize(ctx context.Context, text string, speaker int, segments []models.Segment, maxLengthMS int) Synthesis {
	textLength := utf8.RuneCountInString(text)
	if textLength > SoftTextCap {
		slog.Warn("text is very long, widening audio budget", "text_length", textLength)
		maxLengthMS = max(maxLengthMS, Budget(textLength))
	}
	cloned := len(segments) > 0

	state := a.EnsureLoaded(ctx)
	if !state.Ready {
		return a.fallback(textLength, maxLengthMS, cloned, state.Cause)
	}

	slog.Info("generating audio", "text_length", textLength, "segments", len(segments))
	wf, err := a.generate(ctx, models.GenerateRequest{
		Text:             text,
		Speaker:          speaker,
		Context:          usableSegments(segments, speaker),
		MaxAudioLengthMS: maxLengthMS,
	})
	if err != nil {
		slog.Error("speech model generation failed", "error", err)
		return a.fallback(textLength, maxLengthMS, cloned, err)
	}
	if wf.Empty() {
		slog.Error("speech model returned no audio")
		return a.fallback(textLength, maxLengthMS, cloned, ErrEmptyAudio)
	}

	slog.Info("generated audio", "samples", len(wf.Samples), "source", SourceModel)
	return Synthesis{Waveform: wf, Source: SourceModel}
}

func (a *Adapter) generate(ctx context.Context, req models.GenerateRequest) (wf models.Waveform, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrModelPanic, r)
		}
	}()

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	return a.model.Generate(genCtx, req)
}

func (a *Adapter) fallback(textLength, maxLengthMS int, cloned bool, cause error) Synthesis {
	wf := Fallback(textLength, maxLengthMS, cloned)
	slog.Warn("using fallback synthesis",
		"text_length", textLength,
		"cloned", cloned,
		"samples", len(wf.Samples),
		"reason", cause,
	)
	return Synthesis{Waveform: wf, Source: SourceFallback, Cause: cause}
}

// usableSegments keeps segments carrying both a phrase and audio, spoken by speaker.
func usableSegments(segments []models.Segment, speaker int) []models.Segment {
	out := make([]models.Segment, 0, len(segments))
	for _, s := range segments {
		if s.Text == "" || s.Audio.Empty() {
			continue
		}
		s.Speaker = speaker
		out = append(out, s)
	}
	return out
}
