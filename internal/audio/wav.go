// Package audio converts between WAV bytes and the in-memory waveforms the
// synthesis pipeline works on.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// SampleRate is the rate every waveform in the pipeline is normalized to.
const SampleRate = 24000

const (
	outputBitDepth = 16
	wavFormatPCM   = 1
)

var (
	ErrInvalidWAV     = errors.New("invalid wav data")
	ErrUnsupportedWAV = errors.New("unsupported wav encoding")
)

// PCM is decoded interleaved audio before normalization.
type PCM struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// DecodeWAV parses integer PCM WAV data into float samples in [-1, 1].
func DecodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, ErrInvalidWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return PCM{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return PCM{}, ErrInvalidWAV
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return PCM{}, fmt.Errorf("%w: %d-bit", ErrUnsupportedWAV, bitDepth)
	}
	scale := float32(math.Pow(2, float64(bitDepth-1)))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned.
			v -= 128
		}
		samples[i] = float32(v) / scale
	}

	return PCM{
		Samples:    samples,
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// EncodeWAV renders a mono waveform as 16-bit PCM WAV.
func EncodeWAV(w models.Waveform) ([]byte, error) {
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("encode wav: invalid sample rate %d", w.SampleRate)
	}

	// The encoder patches chunk sizes on Close, so it needs a seekable sink.
	f, err := os.CreateTemp("", "audiobooker-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := WriteWAV(f, w); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temp wav: %w", err)
	}
	return io.ReadAll(f)
}

// WriteWAV encodes w into ws as 16-bit mono PCM.
func WriteWAV(ws io.WriteSeeker, w models.Waveform) error {
	enc := wav.NewEncoder(ws, w.SampleRate, outputBitDepth, 1, wavFormatPCM)

	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
