// Package httpmodel talks to a speech model served over HTTP.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/audiobooker/internal/audio"
	"github.com/kiranshivaraju/audiobooker/internal/config"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// Sentinel errors for model server failures.
var (
	ErrModelUnreachable = errors.New("speech model unreachable")
	ErrModelRejected    = errors.New("speech model rejected request")
	ErrModelTimeout     = errors.New("speech model timeout")
	ErrBadAudio         = errors.New("speech model returned unreadable audio")
)

// maxResponseBytes bounds a generated waveform at roughly ten minutes of 24 kHz 16-bit audio.
const maxResponseBytes = 64 << 20

// Model implements models.SpeechModel against the model server's HTTP API.
type Model struct {
	baseURL string
	token   string
	name    string
	client  *http.Client
	// maxResponse caps the generated audio body. Larger bodies are rejected, not truncated.
	maxResponse int64
}

// New creates an HTTP speech model client. Timeouts are applied per call by the caller's context.
func New(cfg config.ModelConfig) *Model {
	return &Model{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		name:    cfg.Name,
		client:  &http.Client{},

		maxResponse: maxResponseBytes,
	}
}

func (m *Model) Name() string { return "http" }

type loadRequest struct {
	Model string `json:"model"`
}

func (m *Model) Load(ctx context.Context) error {
	resp, err := m.post(ctx, "/v1/models/load", loadRequest{Model: m.name})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: load %s returned status %d", ErrModelRejected, m.name, resp.StatusCode)
	}
	return nil
}

type contextSegment struct {
	Text           string `json:"text"`
	Speaker        int    `json:"speaker"`
	AudioWAVBase64 string `json:"audio_wav_base64"`
}

type generateRequest struct {
	Text             string           `json:"text"`
	Speaker          int              `json:"speaker"`
	Context          []contextSegment `json:"context"`
	MaxAudioLengthMS int              `json:"max_audio_length_ms"`
}

func (m *Model) Generate(ctx context.Context, req models.GenerateRequest) (models.Waveform, error) {
	body := generateRequest{
		Text:             req.Text,
		Speaker:          req.Speaker,
		Context:          make([]contextSegment, 0, len(req.Context)),
		MaxAudioLengthMS: req.MaxAudioLengthMS,
	}
	for _, seg := range req.Context {
		wav, err := audio.EncodeWAV(seg.Audio)
		if err != nil {
			return models.Waveform{}, fmt.Errorf("encoding context audio: %w", err)
		}
		body.Context = append(body.Context, contextSegment{
			Text:           seg.Text,
			Speaker:        seg.Speaker,
			AudioWAVBase64: base64.StdEncoding.EncodeToString(wav),
		})
	}

	resp, err := m.post(ctx, "/v1/audio/generate", body)
	if err != nil {
		return models.Waveform{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Waveform{}, fmt.Errorf("%w: status %d", ErrModelRejected, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxResponse+1))
	if err != nil {
		return models.Waveform{}, classifyError(err)
	}
	if int64(len(data)) > m.maxResponse {
		return models.Waveform{}, fmt.Errorf("%w: response exceeds %d bytes", ErrBadAudio, m.maxResponse)
	}

	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return models.Waveform{}, fmt.Errorf("%w: %v", ErrBadAudio, err)
	}
	wf, err := audio.Normalize(pcm, audio.SampleRate)
	if err != nil {
		return models.Waveform{}, fmt.Errorf("%w: %v", ErrBadAudio, err)
	}
	return wf, nil
}

func (m *Model) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	m.setHeaders(httpReq)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func (m *Model) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrModelUnreachable, err)
}
