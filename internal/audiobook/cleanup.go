package audiobook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/store"
)

// Cleaner removes a job together with its artifacts.
type Cleaner struct {
	store     store.Store
	artifacts artifact.Store
}

func NewCleaner(st store.Store, arts artifact.Store) *Cleaner {
	return &Cleaner{store: st, artifacts: arts}
}

// Delete removes the job's text, its audio if any, its record, and any
// intermediate audio left under its scratch prefix. Absent artifacts are
// skipped. An unknown id yields ErrNotFound and touches nothing.
func (c *Cleaner) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := c.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}

	keys := []string{job.TextRef}
	if job.AudioRef != nil {
		keys = append(keys, *job.AudioRef)
	}
	// A worker that lost its record mid-run may still have written audio.
	if audioKey := artifact.AudioKey(id); job.AudioRef == nil || *job.AudioRef != audioKey {
		keys = append(keys, audioKey)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := c.artifacts.Delete(ctx, key); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return fmt.Errorf("deleting artifact %s: %w", key, err)
		}
	}

	if err := c.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting job: %w", err)
	}

	removed, err := c.artifacts.DeletePrefix(ctx, artifact.ScratchPrefix(id))
	if err != nil {
		slog.Warn("failed to sweep intermediate audio", "job_id", id, "error", err)
	} else if removed > 0 {
		slog.Info("removed intermediate audio", "job_id", id, "count", removed)
	}

	slog.Info("audiobook deleted", "job_id", id)
	return nil
}
