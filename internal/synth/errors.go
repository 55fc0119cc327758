package synth

import "errors"

var (
	ErrModelUnavailable = errors.New("speech model unavailable")
	ErrEmptyAudio       = errors.New("speech model returned empty audio")
	ErrModelPanic       = errors.New("speech model panicked")
)
