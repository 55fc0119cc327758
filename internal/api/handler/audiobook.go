package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/audiobooker/internal/api/response"
	"github.com/kiranshivaraju/audiobooker/internal/audiobook"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// MaxUploadBytes bounds a submission body, text file included.
const MaxUploadBytes = 32 << 20

// AudiobookService defines the interface the handlers depend on.
type AudiobookService interface {
	Submit(ctx context.Context, sub audiobook.Submission) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Audio(ctx context.Context, id uuid.UUID) (*models.Job, []byte, error)
	List(ctx context.Context) ([]*models.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Audiobooks serves the /api/v1/audiobooks resource.
type Audiobooks struct {
	svc AudiobookService
}

func NewAudiobooks(svc AudiobookService) *Audiobooks {
	return &Audiobooks{svc: svc}
}

type jobResponse struct {
	*models.Job
	AudioURL string `json:"audio_url,omitempty"`
}

func toResponse(job *models.Job) jobResponse {
	resp := jobResponse{Job: job}
	if job.Status == models.JobStatusCompleted {
		resp.AudioURL = fmt.Sprintf("/api/v1/audiobooks/%s/audio", job.ID)
	}
	return resp
}

type submitRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	VoiceID     *int   `json:"voice_id"`
	TextContent string `json:"text_content"`
}

// Create handles POST /api/v1/audiobooks. It accepts multipart or urlencoded
// forms (text_file wins over text_content) as well as JSON.
func (h *Audiobooks) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	sub, err := parseSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", MaxUploadBytes), nil)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	job, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Accepted(w, map[string]string{
		"job_id":  job.ID.String(),
		"message": "Audiobook creation started",
	})
}

func parseSubmission(r *http.Request) (audiobook.Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return audiobook.Submission{}, err
			}
			return audiobook.Submission{}, badRequest("Invalid JSON body")
		}
		sub := audiobook.Submission{Title: req.Title, Author: req.Author, Text: req.TextContent}
		if req.VoiceID != nil {
			sub.VoiceID = *req.VoiceID
		}
		return sub, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return audiobook.Submission{}, err
			}
			return audiobook.Submission{}, badRequest("Invalid multipart body: %v", err)
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return audiobook.Submission{}, badRequest("Invalid form body: %v", err)
		}

	default:
		return audiobook.Submission{}, badRequest("Content-Type must be multipart/form-data, application/x-www-form-urlencoded or application/json")
	}

	sub := audiobook.Submission{
		Title:  r.FormValue("title"),
		Author: r.FormValue("author"),
		Text:   r.FormValue("text_content"),
	}
	if raw := strings.TrimSpace(r.FormValue("voice_id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return audiobook.Submission{}, errors.New("voice_id must be an integer")
		}
		sub.VoiceID = id
	}

	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["text_file"]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				return audiobook.Submission{}, badRequest("Could not read text_file: %v", err)
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return audiobook.Submission{}, badRequest("Could not read text_file: %v", err)
			}
			if !utf8.Valid(data) {
				return audiobook.Submission{}, errors.New("text_file must be UTF-8 text")
			}
			sub.Text = string(data)
		}
	}

	return sub, nil
}

// Get handles GET /api/v1/audiobooks/{id}.
func (h *Audiobooks) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.JSON(w, toResponse(job))
}

// Audio handles GET /api/v1/audiobooks/{id}/audio.
func (h *Audiobooks) Audio(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, data, err := h.svc.Audio(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Attachment(w, "audio/wav", job.Title+".wav", data)
}

// List handles GET /api/v1/audiobooks.
func (h *Audiobooks) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toResponse(job))
	}
	response.JSON(w, map[string]any{"audiobooks": out})
}

// Delete handles DELETE /api/v1/audiobooks/{id}.
func (h *Audiobooks) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	response.JSON(w, map[string]string{
		"message": fmt.Sprintf("Audiobook %s deleted successfully", id),
	})
}

// requestError carries a client-facing message for a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// Ids are only ever minted as UUIDs, so anything else cannot exist.
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Audiobook not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audiobook.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", strings.TrimPrefix(err.Error(), audiobook.ErrInvalidInput.Error()+": "), nil)
	case errors.Is(err, audiobook.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Audiobook not found", nil)
	case errors.Is(err, audiobook.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY", "Audiobook is not ready yet", nil)
	default:
		slog.Error("audiobook request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
