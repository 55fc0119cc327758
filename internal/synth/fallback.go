package synth

import (
	"math"

	"github.com/kiranshivaraju/audiobooker/internal/audio"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

const (
	// DefaultToneHz marks audio produced without a voice reference.
	DefaultToneHz = 440.0
	// ClonedToneHz marks audio produced with a voice reference.
	ClonedToneHz = 420.0

	fallbackAmplitude = 0.5
	charsPerSecond    = 20.0
)

// Fallback returns a deterministic placeholder tone. Its length is
// min(textLength/20 s, maxLengthMS) and it always holds at least one sample.
// With cloned set, the tone drops to ClonedToneHz and carries a slow amplitude
// envelope of 0.8 + 0.2*sin(0.5t).
func Fallback(textLength, maxLengthMS int, cloned bool) models.Waveform {
	const rate = audio.SampleRate

	durationSec := math.Min(float64(textLength)/charsPerSecond, float64(maxLengthMS)/1000)
	n := int(math.Ceil(durationSec*rate - 1e-9))

	maxSamples := int(int64(maxLengthMS) * rate / 1000)
	if n > maxSamples {
		n = maxSamples
	}
	if n < 1 {
		n = 1
	}

	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / rate
		if cloned {
			envelope := 0.8 + 0.2*math.Sin(0.5*t)
			samples[i] = float32(fallbackAmplitude * math.Sin(2*math.Pi*ClonedToneHz*t) * envelope)
		} else {
			samples[i] = float32(fallbackAmplitude * math.Sin(2*math.Pi*DefaultToneHz*t))
		}
	}

	return models.Waveform{Samples: samples, SampleRate: rate}
}
