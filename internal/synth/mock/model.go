package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// Model satisfies models.SpeechModel for testing.
type Model struct {
	Name_        string
	LoadFunc     func(ctx context.Context) error
	GenerateFunc func(ctx context.Context, req models.GenerateRequest) (models.Waveform, error)

	Loads     atomic.Int32
	Generates atomic.Int32
}

func (m *Model) Name() string { return m.Name_ }

func (m *Model) Load(ctx context.Context) error {
	m.Loads.Add(1)
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil
}

func (m *Model) Generate(ctx context.Context, req models.GenerateRequest) (models.Waveform, error) {
	m.Generates.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.Waveform{}, nil
}

// NewModel returns a Model that loads and answers every request with a short
// constant waveform at 24 kHz.
func NewModel() *Model {
	return &Model{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.Waveform, error) {
			samples := make([]float32, 2400)
			for i := range samples {
				samples[i] = 0.1
			}
			return models.Waveform{Samples: samples, SampleRate: 24000}, nil
		},
	}
}

// NewFailingLoadModel returns a Model whose load always fails with err.
func NewFailingLoadModel(err error) *Model {
	return &Model{
		Name_:    "mock-failing-load",
		LoadFunc: func(_ context.Context) error { return err },
	}
}

// NewFailingModel returns a Model that loads but fails every generation with err.
func NewFailingModel(err error) *Model {
	return &Model{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.Waveform, error) {
			return models.Waveform{}, err
		},
	}
}

// NewPanickingModel returns a Model whose generation panics.
func NewPanickingModel() *Model {
	return &Model{
		Name_: "mock-panicking",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.Waveform, error) {
			panic("model exploded")
		},
	}
}
