package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

const recordExt = ".json"

// FileStore keeps one JSON document per job in a directory. Every write goes to a
// temp file in the same directory and is then renamed (or hard-linked, for creates)
// into place, so readers only ever see complete records.
type FileStore struct {
	dir string

	// mu makes the existence check and rename in UpdateJob atomic with respect
	// to DeleteJob, so an update never resurrects a deleted record.
	mu sync.Mutex
}

// NewFileStore creates the directory if needed and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Ping checks that the job directory is still accessible.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("stat job directory: %w", err)
	}
	return nil
}

func (s *FileStore) CreateJob(_ context.Context, job *models.Job) error {
	tmp, err := s.writeTemp(job)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	defer os.Remove(tmp)

	// Link fails if the target exists, which gives create-if-absent semantics.
	if err := os.Link(tmp, s.path(job.ID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *FileStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.read(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *FileStore) UpdateJob(_ context.Context, job *models.Job) error {
	tmp, err := s.writeTemp(job)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(job.ID)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		os.Remove(tmp)
		return ErrNotFound
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *FileStore) ListJobs(_ context.Context) ([]*models.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := []*models.Job{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		job, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			slog.Warn("skipping unreadable job record", "file", name, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID.String() > jobs[k].ID.String()
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

func (s *FileStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	err := os.Remove(s.path(id))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+recordExt)
}

func (s *FileStore) read(path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if job.ID == uuid.Nil {
		return nil, fmt.Errorf("decode %s: missing id", filepath.Base(path))
	}
	return &job, nil
}

// writeTemp serializes job into a synced temp file next to its final location.
func (s *FileStore) writeTemp(job *models.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	f, err := os.CreateTemp(s.dir, ".tmp-"+job.ID.String()+"-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)
