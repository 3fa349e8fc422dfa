package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"transcribe-api/config"
)

// OpenAI calls an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAI struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewOpenAI(cfg config.Transcriber) (*OpenAI, error) {
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.OpenAI.URL) == "" {
		return nil, fmt.Errorf("openai url is required")
	}
	model := cfg.OpenAI.Model
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		url:    strings.TrimRight(cfg.OpenAI.URL, "/") + "/audio/transcriptions",
		apiKey: cfg.OpenAI.APIKey,
		model:  model,
		client: &http.Client{},
	}, nil
}

type openAIResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *OpenAI) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"model":           o.model,
			"response_format": "verbose_json",
		}
		if opts.Language != "" {
			fields["language"] = opts.Language
		}
		if opts.InitialPrompt != "" {
			fields["prompt"] = opts.InitialPrompt
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("openai http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(body.Text),
		Language: detectedLanguage(body.Language),
		Duration: body.Duration,
		Segments: make([]Segment, 0, len(body.Segments)),
		Model:    o.model,
	}
	for _, s := range body.Segments {
		result.Segments = append(result.Segments, Segment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text})
	}
	if result.Text == "" {
		result.Text = joinSegmentText(result.Segments)
	}
	return result, nil
}
