package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"transcribe-api/config"

	"github.com/rs/zerolog"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// WhisperCPP runs the whisper.cpp CLI on audio preprocessed by ffmpeg.
type WhisperCPP struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	modelName   string
	threads     int
	runner      commandRunner
}

// NewWhisperCPP resolves binaries and the model file once.
func NewWhisperCPP(cfg config.Transcriber) (*WhisperCPP, error) {
	return newWhisperCPP(cfg, exec.LookPath, execRunner{})
}

func newWhisperCPP(cfg config.Transcriber, lookPath func(string) (string, error), runner commandRunner) (*WhisperCPP, error) {
	modelPath := resolveModelPath(cfg.ModelsDir, cfg.Model)
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper model %q: %w", cfg.Model, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("whisper model %q: %s is a directory", cfg.Model, modelPath)
	}

	whisperPath, err := lookPath(cfg.WhisperBin)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q: %w", cfg.WhisperBin, err)
	}
	ffmpegPath, err := lookPath(cfg.FFmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary %q: %w", cfg.FFmpegBin, err)
	}

	return &WhisperCPP{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelPath:   modelPath,
		modelName:   cfg.Model,
		threads:     cfg.Threads,
		runner:      runner,
	}, nil
}

// resolveModelPath maps a size name like "base" to models/ggml-base.bin; an explicit
// model file path is used as is.
func resolveModelPath(modelsDir, model string) string {
	ext := strings.ToLower(filepath.Ext(model))
	if ext == ".bin" || ext == ".gguf" {
		return model
	}
	return filepath.Join(modelsDir, fmt.Sprintf("ggml-%s.bin", model))
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	tempDir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "audio-16k-mono.wav")
	ffmpegArgs := buildFFmpegArgs(audioPath, wavPath)
	zerolog.Ctx(ctx).Debug().Strs("args", ffmpegArgs).Msg("executing ffmpeg")
	if res, err := w.runner.Run(ctx, w.ffmpegPath, ffmpegArgs...); err != nil {
		return nil, fmt.Errorf("ffmpeg audio conversion failed (exit %d): %s: %w", res.ExitCode, lastLine(res.Stderr), err)
	}

	outBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(w.modelPath, wavPath, outBase, w.threads, opts)
	zerolog.Ctx(ctx).Debug().Strs("args", whisperArgs).Msg("executing whisper.cpp")
	if res, err := w.runner.Run(ctx, w.whisperPath, whisperArgs...); err != nil {
		return nil, fmt.Errorf("whisper.cpp transcription failed (exit %d): %s: %w", res.ExitCode, lastLine(res.Stderr), err)
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper.cpp output: %w", err)
	}
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode whisper.cpp output: %w", err)
	}

	result := &Result{
		Language: detectedLanguage(out.Result.Language),
		Segments: make([]Segment, 0, len(out.Transcription)),
		Model:    w.modelName,
	}
	for i, s := range out.Transcription {
		result.Segments = append(result.Segments, Segment{
			ID:    i,
			Start: float64(s.Offsets.From) / 1000,
			End:   float64(s.Offsets.To) / 1000,
			Text:  s.Text,
		})
	}
	if n := len(result.Segments); n > 0 {
		result.Duration = result.Segments[n-1].End
	}
	result.Text = joinSegmentText(result.Segments)
	return result, nil
}

// buildFFmpegArgs converts any supported container to 16 kHz mono PCM, the only input
// whisper.cpp accepts.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildWhisperArgs(modelPath, audioPath, outBase string, threads int, opts Options) []string {
	lang := whisperLanguage(opts.Language)
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-l", lang,
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--prompt", opts.InitialPrompt)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
