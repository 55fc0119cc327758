package audiobook

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/audio"
	"github.com/kiranshivaraju/audiobooker/internal/events"
	"github.com/kiranshivaraju/audiobooker/internal/store"
	"github.com/kiranshivaraju/audiobooker/internal/synth"
	"github.com/kiranshivaraju/audiobooker/internal/synth/mock"
	"github.com/kiranshivaraju/audiobooker/internal/voice"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// --- fakes ---

type recordingScheduler struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (s *recordingScheduler) Dispatch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) statuses(id uuid.UUID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

type synthFunc func(ctx context.Context, text string, speaker int, segments []models.Segment, maxLengthMS int) synth.Synthesis

func (f synthFunc) Synthesize(ctx context.Context, text string, speaker int, segments []models.Segment, maxLengthMS int) synth.Synthesis {
	return f(ctx, text, speaker, segments, maxLengthMS)
}

// failingAudioStore rejects writes of finished audio.
type failingAudioStore struct {
	artifact.Store
}

func (s failingAudioStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasSuffix(key, ".wav") {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, data)
}

// flakyStore fails the first n updates.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) UpdateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.UpdateJob(ctx, job)
}

// --- harness ---

type harness struct {
	svc       *Service
	worker    *Worker
	store     store.Store
	artifacts artifact.Store
	sched     *recordingScheduler
	events    *recordingPublisher
	voicesDir string
}

type option func(*harness)

func withStore(wrap func(store.Store) store.Store) option {
	return func(h *harness) { h.store = wrap(h.store) }
}

func withArtifacts(wrap func(artifact.Store) artifact.Store) option {
	return func(h *harness) { h.artifacts = wrap(h.artifacts) }
}

func newHarness(t *testing.T, syn Synthesizer, opts ...option) *harness {
	t.Helper()
	root := t.TempDir()

	st, err := store.NewFileStore(filepath.Join(root, "metadata"))
	require.NoError(t, err)
	arts, err := artifact.NewFileStore(filepath.Join(root, "artifacts"))
	require.NoError(t, err)

	h := &harness{
		store:     st,
		artifacts: arts,
		sched:     &recordingScheduler{},
		events:    &recordingPublisher{},
		voicesDir: filepath.Join(root, "voices"),
	}
	require.NoError(t, os.MkdirAll(h.voicesDir, 0o755))
	for _, o := range opts {
		o(h)
	}

	lib, err := voice.NewLibrary(h.voicesDir, "")
	require.NoError(t, err)

	h.svc = NewService(h.store, h.artifacts, h.sched, h.events)
	h.worker = NewWorker(h.store, h.artifacts, voice.NewBuilder(lib), syn, h.events)
	return h
}

func fallbackOnly() Synthesizer {
	return synth.NewAdapter(nil, time.Second, time.Second)
}

func helloWorld() Submission {
	return Submission{Title: "T", Author: "A", VoiceID: 0, Text: "hello world"}
}

func (h *harness) submitAndProcess(t *testing.T, sub Submission) *models.Job {
	t.Helper()
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, sub)
	require.NoError(t, err)
	h.worker.Process(ctx, job.ID)

	got, err := h.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func (h *harness) writeVoice(t *testing.T, id int, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.voicesDir, "voice_"+strconv.Itoa(id)+".wav"), data, 0o644))
}

func decode(t *testing.T, data []byte) models.Waveform {
	t.Helper()
	pcm, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	wf, err := audio.Normalize(pcm, audio.SampleRate)
	require.NoError(t, err)
	return wf
}

func pitch(w models.Waveform) float64 {
	crossings := 0
	for i := 1; i < len(w.Samples); i++ {
		if w.Samples[i-1] <= 0 && w.Samples[i] > 0 {
			crossings++
		}
	}
	return float64(crossings) / w.Duration().Seconds()
}

func assertAudioRefInvariant(t *testing.T, job *models.Job) {
	t.Helper()
	assert.Equal(t, job.Status == models.JobStatusCompleted, job.AudioRef != nil,
		"audio_ref must be set exactly when completed (status %s)", job.Status)
}

// --- submission ---

func TestSubmit_PendingBeforeProcessing(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	got, err := h.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.AudioRef)
	assert.Equal(t, artifact.TextKey(job.ID), got.TextRef)

	text, err := h.artifacts.Get(ctx, got.TextRef)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(text))

	assert.Equal(t, []uuid.UUID{job.ID}, h.sched.ids)
	assert.Equal(t, []string{models.JobStatusPending}, h.events.statuses(job.ID))
}

func TestSubmit_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{"missing title", Submission{Author: "A", Text: "x"}},
		{"blank author", Submission{Title: "T", Author: "  ", Text: "x"}},
		{"missing text", Submission{Title: "T", Author: "A"}},
		{"whitespace text", Submission{Title: "T", Author: "A", Text: "\n\t "}},
		{"negative voice", Submission{Title: "T", Author: "A", VoiceID: -1, Text: "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, fallbackOnly())

			_, err := h.svc.Submit(context.Background(), tc.sub)
			assert.ErrorIs(t, err, ErrInvalidInput)

			jobs, err := h.svc.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, jobs)
			assert.Empty(t, h.sched.ids)
		})
	}
}

// --- processing scenarios ---

func TestProcess_HelloWorldFallbackTone(t *testing.T) {
	h := newHarness(t, fallbackOnly())

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.AudioRef)
	assert.Equal(t, artifact.AudioKey(job.ID), *job.AudioRef)
	assert.Nil(t, job.ErrorMessage)
	assertAudioRefInvariant(t, job)

	_, data, err := h.svc.Audio(context.Background(), job.ID)
	require.NoError(t, err)
	wf := decode(t, data)
	assert.InDelta(t, 0.55, wf.Duration().Seconds(), 0.001)
	assert.InDelta(t, synth.DefaultToneHz, pitch(wf), 5)

	assert.Equal(t,
		[]string{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted},
		h.events.statuses(job.ID))
}

func TestProcess_VoiceSampleUsesClonedTone(t *testing.T) {
	h := newHarness(t, fallbackOnly())

	sample := make([]float32, 4410)
	for i := range sample {
		sample[i] = float32(0.2 * math.Sin(2*math.Pi*150*float64(i)/44100))
	}
	data, err := audio.EncodeWAV(models.Waveform{Samples: sample, SampleRate: 44100})
	require.NoError(t, err)
	h.writeVoice(t, 1, data)

	sub := helloWorld()
	sub.VoiceID = 1
	job := h.submitAndProcess(t, sub)

	require.Equal(t, models.JobStatusCompleted, job.Status)
	_, out, err := h.svc.Audio(context.Background(), job.ID)
	require.NoError(t, err)
	assert.InDelta(t, synth.ClonedToneHz, pitch(decode(t, out)), 5)
}

func TestProcess_MalformedVoiceSampleFallsBackToDefault(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	h.writeVoice(t, 2, []byte("definitely not a wav file"))

	sub := helloWorld()
	sub.VoiceID = 2
	job := h.submitAndProcess(t, sub)

	require.Equal(t, models.JobStatusCompleted, job.Status)
	_, out, err := h.svc.Audio(context.Background(), job.ID)
	require.NoError(t, err)
	assert.InDelta(t, synth.DefaultToneHz, pitch(decode(t, out)), 5)
}

func TestProcess_LongTextBudgetIsClamped(t *testing.T) {
	m := mock.NewModel()
	var budget int
	m.GenerateFunc = func(_ context.Context, req models.GenerateRequest) (models.Waveform, error) {
		budget = req.MaxAudioLengthMS
		return models.Waveform{Samples: []float32{0.1, 0.2}, SampleRate: audio.SampleRate}, nil
	}
	h := newHarness(t, synth.NewAdapter(m, time.Second, time.Second))

	sub := helloWorld()
	sub.Text = strings.Repeat("a", 5000)
	job := h.submitAndProcess(t, sub)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 300000, budget)
}

func TestProcess_UsesRealModelWhenReady(t *testing.T) {
	m := mock.NewModel()
	h := newHarness(t, synth.NewAdapter(m, time.Second, time.Second))

	job := h.submitAndProcess(t, helloWorld())

	require.Equal(t, models.JobStatusCompleted, job.Status)
	_, out, err := h.svc.Audio(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, decode(t, out).Samples, 2400)
	assert.Equal(t, int32(1), m.Generates.Load())
}

func TestProcess_PermanentLoadFailureStillTerminates(t *testing.T) {
	m := mock.NewFailingLoadModel(errors.New("weights missing"))
	h := newHarness(t, synth.NewAdapter(m, time.Second, time.Second))
	d := NewDispatcher(context.Background(), h.worker, 2)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		job, err := h.svc.Submit(context.Background(), helloWorld())
		require.NoError(t, err)
		ids = append(ids, job.ID)
		d.Dispatch(job.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	for _, id := range ids {
		job, err := h.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assertAudioRefInvariant(t, job)
	}
	assert.Equal(t, int32(1), m.Loads.Load())
}

func TestProcess_SaveFailureFailsJob(t *testing.T) {
	h := newHarness(t, fallbackOnly(), withArtifacts(func(s artifact.Store) artifact.Store {
		return failingAudioStore{Store: s}
	}))

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "saving audio")
	assertAudioRefInvariant(t, job)

	_, _, err := h.svc.Audio(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestProcess_NoWaveformFailsJob(t *testing.T) {
	empty := synthFunc(func(context.Context, string, int, []models.Segment, int) synth.Synthesis {
		return synth.Synthesis{}
	})
	h := newHarness(t, empty)

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assertAudioRefInvariant(t, job)
}

func TestProcess_PanicIsContained(t *testing.T) {
	boom := synthFunc(func(context.Context, string, int, []models.Segment, int) synth.Synthesis {
		panic("synthesizer exploded")
	})
	h := newHarness(t, boom)

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "synthesizer exploded")
	assertAudioRefInvariant(t, job)
}

func TestProcess_FirstWriteFailureForcesPendingToFailed(t *testing.T) {
	flaky := &flakyStore{failures: 1}
	h := newHarness(t, fallbackOnly(), withStore(func(s store.Store) store.Store {
		flaky.Store = s
		return flaky
	}))

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assertAudioRefInvariant(t, job)
}

func TestProcess_SecondaryFailureIsSwallowed(t *testing.T) {
	flaky := &flakyStore{failures: 100}
	h := newHarness(t, fallbackOnly(), withStore(func(s store.Store) store.Store {
		flaky.Store = s
		return flaky
	}))

	job := h.submitAndProcess(t, helloWorld())

	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestProcess_UnknownJobDoesNotPanic(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	assert.NotPanics(t, func() {
		h.worker.Process(context.Background(), uuid.New())
	})
}

func TestProcess_TerminalJobIsNotReprocessed(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	job := h.submitAndProcess(t, helloWorld())
	require.Equal(t, models.JobStatusCompleted, job.Status)

	h.worker.Process(context.Background(), job.ID)

	again, err := h.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, again.Status)
	assert.Equal(t, job.AudioRef, again.AudioRef)
}

// --- queries ---

func TestAudio_NotReadyAndNotFound(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)

	_, _, err = h.svc.Audio(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, _, err = h.svc.Audio(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrNotReady)
}

func TestList_NewestFirst(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)

	jobs, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

// --- cleanup ---

func TestDelete_RemovesEverything(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	job := h.submitAndProcess(t, helloWorld())
	require.Equal(t, models.JobStatusCompleted, job.Status)
	scratch := artifact.ScratchPrefix(job.ID) + "0.wav"
	require.NoError(t, h.artifacts.Put(ctx, scratch, []byte("partial")))

	require.NoError(t, h.svc.Delete(ctx, job.ID))

	_, err := h.svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, key := range []string{job.TextRef, *job.AudioRef, scratch} {
		_, err := h.artifacts.Get(ctx, key)
		assert.ErrorIs(t, err, artifact.ErrNotFound, key)
	}

	assert.ErrorIs(t, h.svc.Delete(ctx, job.ID), ErrNotFound)
}

func TestDelete_PendingJobWithoutAudio(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, job.ID))
	_, err = h.svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_UnknownIDHasNoSideEffects(t *testing.T) {
	h := newHarness(t, fallbackOnly())
	ctx := context.Background()

	kept, err := h.svc.Submit(ctx, helloWorld())
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.Delete(ctx, uuid.New()), ErrNotFound)

	jobs, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, kept.ID, jobs[0].ID)
}

// --- dispatcher ---

type countingProcessor struct {
	mu        sync.Mutex
	active    int
	peak      int
	processed atomic.Int32
	release   chan struct{}
}

func (p *countingProcessor) Process(_ context.Context, _ uuid.UUID) {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.processed.Add(1)
}

func (p *countingProcessor) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func TestDispatcher_RespectsLimit(t *testing.T) {
	p := &countingProcessor{release: make(chan struct{})}
	d := NewDispatcher(context.Background(), p, 2)

	for i := 0; i < 5; i++ {
		d.Dispatch(uuid.New())
	}

	assert.Eventually(t, func() bool { return p.activeCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	close(p.release)
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, 2, p.peak)
	assert.Equal(t, int32(5), p.processed.Load())
}

func TestDispatcher_WaitTimesOut(t *testing.T) {
	p := &countingProcessor{release: make(chan struct{})}
	d := NewDispatcher(context.Background(), p, 1)
	d.Dispatch(uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(p.release)
	require.NoError(t, d.Wait(context.Background()))
}

func TestDispatcher_CancelledBaseSkipsQueuedJobs(t *testing.T) {
	p := &countingProcessor{release: make(chan struct{})}
	base, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(base, p, 1)

	d.Dispatch(uuid.New())
	assert.Eventually(t, func() bool { return p.activeCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.Dispatch(uuid.New())
	cancel()
	close(p.release)

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(1), p.processed.Load())
}
