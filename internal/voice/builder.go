package voice

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/audiobooker/internal/audio"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// Builder produces the conditioning context for a voice id.
type Builder struct {
	lib *Library
}

func NewBuilder(lib *Library) *Builder {
	return &Builder{lib: lib}
}

// BuildContext returns a single segment pairing the voice's reference phrase with
// its sample, normalized to mono 24 kHz. A missing, unreadable, or silent sample
// yields an empty context; this never fails.
func (b *Builder) BuildContext(ctx context.Context, voiceID int) []models.Segment {
	sample := b.lib.Resolve(voiceID)

	wf, err := loadSample(sample.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "no voice sample, using default voice", "voice_id", voiceID, "path", sample.Path)
		} else {
			slog.ErrorContext(ctx, "error setting up voice cloning", "voice_id", voiceID, "path", sample.Path, "error", err)
		}
		return nil
	}
	if wf.Empty() {
		slog.WarnContext(ctx, "voice sample is empty, using default voice", "voice_id", voiceID, "path", sample.Path)
		return nil
	}

	slog.InfoContext(ctx, "voice cloning context created", "voice_id", voiceID, "path", sample.Path)
	return []models.Segment{{
		Text:    sample.ReferenceText,
		Speaker: 0,
		Audio:   wf,
	}}
}

func loadSample(path string) (models.Waveform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Waveform{}, err
	}
	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return models.Waveform{}, err
	}
	return audio.Normalize(pcm, audio.SampleRate)
}
