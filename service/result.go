package service

import (
	"time"
	"transcribe-api/transcriber"
)

// FullResult is the content of transcript_{id}.json.
type FullResult struct {
	Text     string                `json:"text"`
	Segments []transcriber.Segment `json:"segments"`
	Language string                `json:"language,omitempty"`
	Duration float64               `json:"duration,omitempty"`
	Metadata ResultMetadata        `json:"metadata"`
}

type ResultMetadata struct {
	JobID             uint      `json:"job_id"`
	Filename          string    `json:"filename"`
	MediaType         string    `json:"media_type,omitempty"`
	RequestedLanguage string    `json:"requested_language"`
	Model             string    `json:"model,omitempty"`
	TranscribedAt     time.Time `json:"transcribed_at"`
}
