package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the job record store. It is the only source of truth for job state.
// Implementations must be safe for concurrent use across different job ids, and a
// read must never observe a partially written record.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJob overwrites the whole record. Last writer wins.
	UpdateJob(ctx context.Context, job *models.Job) error
	// ListJobs returns every readable job, newest first. Unreadable records are skipped.
	ListJobs(ctx context.Context) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}
