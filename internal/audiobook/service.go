// Package audiobook turns submitted books into narrated audio. Submission,
// queries, and deletion run synchronously; synthesis runs in the background.
package audiobook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/events"
	"github.com/kiranshivaraju/audiobooker/internal/store"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("audiobook not found")
	ErrNotReady     = errors.New("audiobook not ready")
)

// Submission is a validated request to narrate a book.
type Submission struct {
	Title   string
	Author  string
	VoiceID int
	Text    string
}

// Scheduler hands a created job to background processing without blocking.
type Scheduler interface {
	Dispatch(id uuid.UUID)
}

// Service is the synchronous face of the audiobook pipeline.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	scheduler Scheduler
	events    events.Publisher
	cleaner   *Cleaner
	now       func() time.Time
}

func NewService(st store.Store, arts artifact.Store, sched Scheduler, pub events.Publisher) *Service {
	return &Service{
		store:     st,
		artifacts: arts,
		scheduler: sched,
		events:    pub,
		cleaner:   NewCleaner(st, arts),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) validate(sub Submission) error {
	if strings.TrimSpace(sub.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(sub.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidInput)
	}
	if sub.VoiceID < 0 {
		return fmt.Errorf("%w: voice_id must not be negative", ErrInvalidInput)
	}
	if strings.TrimSpace(sub.Text) == "" {
		return fmt.Errorf("%w: either text_file or text_content must be provided", ErrInvalidInput)
	}
	return nil
}

// Submit stores the text, creates a pending job and schedules it. The job is
// readable as pending before Submit returns.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	now := s.now()
	job := &models.Job{
		ID:        uuid.New(),
		Title:     strings.TrimSpace(sub.Title),
		Author:    strings.TrimSpace(sub.Author),
		VoiceID:   sub.VoiceID,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.TextRef = artifact.TextKey(job.ID)

	if err := s.artifacts.Put(ctx, job.TextRef, []byte(sub.Text)); err != nil {
		return nil, fmt.Errorf("storing text: %w", err)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if delErr := s.artifacts.Delete(ctx, job.TextRef); delErr != nil {
			slog.Warn("failed to remove text of unsaved job", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	publish(ctx, s.events, job)
	s.scheduler.Dispatch(job.ID)

	slog.Info("audiobook submitted",
		"job_id", job.ID,
		"voice_id", job.VoiceID,
		"text_length", len(sub.Text),
	)
	return job, nil
}

// Get returns the stored job record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading job: %w", err)
	}
	return job, nil
}

// Audio returns the finished WAV for a completed job. Jobs in any other state
// yield ErrNotReady.
func (s *Service) Audio(ctx context.Context, id uuid.UUID) (*models.Job, []byte, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != models.JobStatusCompleted || job.AudioRef == nil {
		return job, nil, fmt.Errorf("%w: status is %s", ErrNotReady, job.Status)
	}

	data, err := s.artifacts.Get(ctx, *job.AudioRef)
	if errors.Is(err, artifact.ErrNotFound) {
		return job, nil, fmt.Errorf("%w: audio file missing", ErrNotFound)
	}
	if err != nil {
		return job, nil, fmt.Errorf("reading audio: %w", err)
	}
	return job, data, nil
}

// List returns every readable job, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Job, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job and everything it owns.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.cleaner.Delete(ctx, id)
}

// publish announces the job's current status. Failures are logged only.
func publish(ctx context.Context, pub events.Publisher, job *models.Job) {
	ev := events.JobEvent{JobID: job.ID, Status: job.Status, At: job.UpdatedAt}
	if job.ErrorMessage != nil {
		ev.Error = *job.ErrorMessage
	}
	if err := pub.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish job event", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
