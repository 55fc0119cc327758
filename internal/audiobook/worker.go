package audiobook

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/audio"
	"github.com/kiranshivaraju/audiobooker/internal/events"
	"github.com/kiranshivaraju/audiobooker/internal/store"
	"github.com/kiranshivaraju/audiobooker/internal/synth"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// ContextBuilder turns a voice id into conditioning segments. It never fails.
type ContextBuilder interface {
	BuildContext(ctx context.Context, voiceID int) []models.Segment
}

// Synthesizer turns text into speech, degrading to a placeholder on model failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speaker int, segments []models.Segment, maxLengthMS int) synth.Synthesis
}

// Worker drives one job from pending to a terminal status.
type Worker struct {
	store     store.Store
	artifacts artifact.Store
	voices    ContextBuilder
	synth     Synthesizer
	events    events.Publisher
	now       func() time.Time
}

func NewWorker(st store.Store, arts artifact.Store, voices ContextBuilder, syn Synthesizer, pub events.Publisher) *Worker {
	return &Worker{
		store:     st,
		artifacts: arts,
		voices:    voices,
		synth:     syn,
		events:    pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the job to completion. It always returns, and it leaves the job
// completed or failed unless even the failure could not be recorded.
func (w *Worker) Process(ctx context.Context, id uuid.UUID) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in audiobook worker", "error", r, "job_id", id, "stack", string(debug.Stack()))
			w.forceFail(ctx, id, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.run(ctx, id); err != nil {
		slog.Error("audiobook processing failed", "job_id", id, "error", err)
		w.forceFail(ctx, id, err.Error())
		return
	}

	slog.Info("audiobook processing finished", "job_id", id, "duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) run(ctx context.Context, id uuid.UUID) error {
	job, err := w.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}

	if err := job.Transition(models.JobStatusProcessing, w.now()); err != nil {
		return err
	}
	if err := w.save(ctx, job); err != nil {
		return err
	}

	text, err := w.artifacts.Get(ctx, job.TextRef)
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("reading text: %v", err))
	}

	segments := w.voices.BuildContext(ctx, job.VoiceID)

	content := string(text)
	textLength := utf8.RuneCountInString(content)
	result := w.synth.Synthesize(ctx, content, synth.DefaultSpeaker, segments, synth.Budget(textLength))
	if result.Empty() {
		return w.fail(ctx, job, "no audio generated")
	}

	wav, err := audio.EncodeWAV(result.Waveform)
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("encoding audio: %v", err))
	}
	key := artifact.AudioKey(job.ID)
	if err := w.artifacts.Put(ctx, key, wav); err != nil {
		return w.fail(ctx, job, fmt.Sprintf("saving audio: %v", err))
	}

	if err := job.Complete(key, w.now()); err != nil {
		return err
	}
	if err := w.save(ctx, job); err != nil {
		return err
	}

	slog.Info("audiobook completed",
		"job_id", job.ID,
		"source", result.Source,
		"audio_seconds", result.Waveform.Duration().Seconds(),
	)
	return nil
}

// fail records a terminal failure on a processing job. It only returns an error
// when the failure itself could not be persisted.
func (w *Worker) fail(ctx context.Context, job *models.Job, reason string) error {
	slog.Error("audiobook failed", "job_id", job.ID, "reason", reason)
	if err := job.Fail(reason, w.now()); err != nil {
		return err
	}
	if err := w.save(ctx, job); err != nil {
		return fmt.Errorf("%s; recording failure: %w", reason, err)
	}
	return nil
}

// forceFail re-reads the job and drives it to failed. A second failure here is
// logged and swallowed.
func (w *Worker) forceFail(ctx context.Context, id uuid.UUID, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while failing job", "job_id", id, "error", r)
		}
	}()

	job, err := w.store.GetJob(ctx, id)
	if err != nil {
		slog.Error("could not re-read job to mark it failed", "job_id", id, "error", err)
		return
	}
	if !job.ForceFail(reason, w.now()) {
		return
	}
	if err := w.save(ctx, job); err != nil {
		slog.Error("could not mark job failed", "job_id", id, "error", err)
	}
}

func (w *Worker) save(ctx context.Context, job *models.Job) error {
	if err := w.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("updating job to %s: %w", job.Status, err)
	}
	publish(ctx, w.events, job)
	return nil
}
