package audio

import (
	"fmt"

	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// Normalize mixes p down to mono and resamples it to targetRate.
func Normalize(p PCM, targetRate int) (models.Waveform, error) {
	if p.Channels < 1 {
		return models.Waveform{}, fmt.Errorf("normalize: invalid channel count %d", p.Channels)
	}
	if p.SampleRate < 1 || targetRate < 1 {
		return models.Waveform{}, fmt.Errorf("normalize: invalid sample rate %d -> %d", p.SampleRate, targetRate)
	}
	return Resample(Mono(p), targetRate), nil
}

// Mono averages interleaved channels into a single channel.
func Mono(p PCM) models.Waveform {
	if p.Channels <= 1 {
		return models.Waveform{Samples: p.Samples, SampleRate: p.SampleRate}
	}

	frames := len(p.Samples) / p.Channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < p.Channels; c++ {
			sum += p.Samples[i*p.Channels+c]
		}
		out[i] = sum / float32(p.Channels)
	}
	return models.Waveform{Samples: out, SampleRate: p.SampleRate}
}

// Resample converts w to targetRate with linear interpolation.
func Resample(w models.Waveform, targetRate int) models.Waveform {
	if w.SampleRate == targetRate || len(w.Samples) == 0 {
		return models.Waveform{Samples: w.Samples, SampleRate: targetRate}
	}

	n := int(int64(len(w.Samples)) * int64(targetRate) / int64(w.SampleRate))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(w.SampleRate) / float64(targetRate)
	last := len(w.Samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = w.Samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = w.Samples[idx]*(1-frac) + w.Samples[idx+1]*frac
	}
	return models.Waveform{Samples: out, SampleRate: targetRate}
}
