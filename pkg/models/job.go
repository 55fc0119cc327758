package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ErrInvalidTransition is returned when a status change would move a job backwards
// or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Job tracks one audiobook conversion. The API returns a job_id on POST /api/v1/audiobooks;
// the client polls GET /api/v1/audiobooks/{id} until status is completed or failed.
type Job struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Title        string    `db:"title"         json:"title"`
	Author       string    `db:"author"        json:"author"`
	VoiceID      int       `db:"voice_id"      json:"voice_id"`
	Status       string    `db:"status"        json:"status"`
	TextRef      string    `db:"text_ref"      json:"text_ref"`
	AudioRef     *string   `db:"audio_ref"     json:"audio_ref,omitempty"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

var validTransitions = map[string][]string{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether from -> to is a legal edge of the job state machine.
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status admits no further transitions.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Transition moves the job to status, refusing any edge that is not forward.
func (j *Job) Transition(status string, now time.Time) error {
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	j.Status = status
	j.UpdatedAt = now
	return nil
}

// Complete moves a processing job to completed and records where its audio lives.
// audio_ref is only ever set here.
func (j *Job) Complete(audioRef string, now time.Time) error {
	if err := j.Transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.AudioRef = &audioRef
	j.ErrorMessage = nil
	return nil
}

// Fail moves a processing job to failed with a reason.
func (j *Job) Fail(reason string, now time.Time) error {
	if err := j.Transition(JobStatusFailed, now); err != nil {
		return err
	}
	j.AudioRef = nil
	j.ErrorMessage = &reason
	return nil
}

// ForceFail drives any non-terminal job to failed along legal edges. A pending job
// passes through processing first. Terminal jobs are left untouched and false is returned.
func (j *Job) ForceFail(reason string, now time.Time) bool {
	if IsTerminal(j.Status) {
		return false
	}
	if j.Status == JobStatusPending {
		j.Status = JobStatusProcessing
	}
	return j.Fail(reason, now) == nil
}
