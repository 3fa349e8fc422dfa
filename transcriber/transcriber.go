// Package transcriber wraps the speech-to-text capability behind a narrow interface.
// The capability is loaded once at process start and shared by all workers.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"transcribe-api/config"
	"transcribe-api/constant"

	"github.com/rs/zerolog"
)

var ErrUnavailable = errors.New("transcription capability unavailable")

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// Options controls a single transcription call.
type Options struct {
	// Language forces the spoken language; empty means auto-detect.
	Language string
	// InitialPrompt biases decoding, e.g. toward a writing system.
	InitialPrompt string
}

// NewOptions builds options for a job's requested language using the hint table.
func NewOptions(language string, hints map[string]string) Options {
	lang := strings.TrimSpace(language)
	if lang == "" || strings.EqualFold(lang, constant.LanguageAuto) {
		return Options{}
	}
	return Options{
		Language:      lang,
		InitialPrompt: hints[lang],
	}
}

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments"`
	Model    string    `json:"model,omitempty"`
}

type unavailable struct {
	cause error
}

// Unavailable returns a capability whose every call fails with ErrUnavailable.
func Unavailable(cause error) Transcriber {
	return unavailable{cause: cause}
}

func (u unavailable) Transcribe(context.Context, string, Options) (*Result, error) {
	if u.cause == nil {
		return nil, ErrUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, u.cause)
}

// New loads the configured backend. A load failure is logged and yields an
// Unavailable capability so the process keeps serving requests.
func New(ctx context.Context, cfg config.Transcriber) Transcriber {
	var (
		t   Transcriber
		err error
	)
	switch cfg.Backend {
	case constant.TranscriberBackendOpenAI:
		t, err = NewOpenAI(cfg)
	default:
		t, err = NewWhisperCPP(cfg)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("backend", string(cfg.Backend)).
			Str("model", cfg.Model).
			Msg("failed to load transcription model, every job will fail")
		return Unavailable(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("backend", string(cfg.Backend)).
		Str("model", cfg.Model).
		Msg("transcription model loaded")
	return t
}

func joinSegmentText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
