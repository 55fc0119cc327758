// Package artifact stores the byte payloads of a job: its source text and
// generated audio. Job records live in the store package instead.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store holds artifacts by key. Keys are slash-separated relative paths.
type Store interface {
	Ping(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete returns ErrNotFound when key is absent.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every artifact whose key starts with prefix and
	// reports how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// TextKey is where a job's source text lives.
func TextKey(id uuid.UUID) string {
	return fmt.Sprintf("books/%s.txt", id)
}

// AudioKey is where a job's finished audio lives.
func AudioKey(id uuid.UUID) string {
	return fmt.Sprintf("books/%s.wav", id)
}

// ScratchPrefix prefixes intermediate audio produced while a job runs.
func ScratchPrefix(id uuid.UUID) string {
	return fmt.Sprintf("audio/%s_", id)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
