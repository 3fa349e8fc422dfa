package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"transcribe-api/config"
	"transcribe-api/constant"
	"transcribe-api/dto"
	"transcribe-api/entities"
	"transcribe-api/repository"
	"transcribe-api/storage"
	"transcribe-api/transcriber"

	"github.com/abadojack/whatlanggo"
	"github.com/rs/zerolog"
)

// ArtifactStore is the file layer the services work against.
type ArtifactStore interface {
	SaveUpload(originalFilename string, r io.Reader) (*storage.Upload, error)
	RemoveUpload(path string) error
	Uploads() ([]storage.UploadFile, error)
	StageTranscriptSet(jobID uint, set storage.TranscriptSet) (*storage.StagedSet, error)
	Restage(jobID uint) *storage.StagedSet
	TranscriptPath(jobID uint, format constant.TranscriptFormat) (string, error)
	RemoveTranscripts(jobID uint) error
	TranscriptJobIDs() (committed []uint, staged []uint, err error)
}

// Dispatcher schedules one worker execution for a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dto.JobMessage) error
}

type TranscriptionService interface {
	Process(ctx context.Context, message dto.JobMessage) error
}

type service struct {
	repo        repository.JobRepository
	artifacts   ArtifactStore
	transcriber transcriber.Transcriber
	mirror      storage.Mirror
	hints       map[string]string
	timeout     time.Duration
	now         func() time.Time
}

// Process runs one job to a terminal state. Job failures are recorded on the job and
// never returned.
func (s *service) Process(ctx context.Context, message dto.JobMessage) (err error) {
	logger := zerolog.Ctx(ctx).With().Uint("job_id", message.JobId).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("processing job")

	job, err := s.repo.FindJobById(ctx, message.JobId)
	if errors.Is(err, repository.ErrJobNotFound) {
		logger.Info().Msg("job no longer exists, skipping")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to find job by id")
		if _, updateErr := s.repo.MarkFailed(context.WithoutCancel(ctx), message.JobId); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to update job status")
		}
		return nil
	}

	if job.Status != constant.JobStatusPending {
		logger.Info().Str("status", string(job.Status)).Msg("job is not pending")
		return nil
	}

	var staged *storage.StagedSet
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcription panicked: %v", r)
		}
		if err == nil {
			return
		}
		if staged != nil {
			staged.Discard()
		}
		logger.Error().Err(err).Msg("job failed")
		if _, updateErr := s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to update job status")
		}
		err = nil
	}()

	claimed, err := s.repo.MarkProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !claimed {
		logger.Info().Msg("job was claimed or deleted concurrently")
		return nil
	}

	opts := transcriber.NewOptions(job.Language, s.hints)
	audioPath := job.AudioPath
	if audioPath == "" {
		audioPath = message.AudioPath
	}

	tctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger.Info().Str("language", job.Language).Bool("hint", opts.InitialPrompt != "").Msg("transcribing audio")
	result, err := s.transcriber.Transcribe(tctx, audioPath, opts)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if result == nil {
		return fmt.Errorf("transcribe: empty result")
	}
	s.fillLanguage(result, opts)

	staged, err = s.artifacts.StageTranscriptSet(job.ID, s.transcriptSet(job, result))
	if err != nil {
		return fmt.Errorf("write transcripts: %w", err)
	}

	textPath := staged.Paths[constant.TranscriptFormatText]
	applied, err := s.repo.MarkCompleted(ctx, job.ID, result.Text, textPath)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !applied {
		staged.Discard()
		logger.Info().Msg("job was deleted while processing, discarding transcripts")
		return nil
	}

	if err := staged.Commit(); err != nil {
		// The job is already terminal; Recover finishes the rename on next start.
		logger.Error().Err(err).Msg("failed to commit transcripts")
		return nil
	}

	if s.mirror != nil {
		if err := s.mirror.MirrorTranscripts(ctx, job.ID, staged.Paths); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror transcripts")
		}
	}

	logger.Info().Int("segments", len(result.Segments)).Str("language", result.Language).Msg("job completed")
	return nil
}

func (s *service) fillLanguage(result *transcriber.Result, opts transcriber.Options) {
	if result.Language != "" {
		return
	}
	if opts.Language != "" {
		result.Language = opts.Language
		return
	}
	info := whatlanggo.Detect(result.Text)
	if info.IsReliable() {
		result.Language = info.Lang.Iso6391()
	}
}

func (s *service) transcriptSet(job *entities.Job, result *transcriber.Result) storage.TranscriptSet {
	segments := result.Segments
	if segments == nil {
		segments = []transcriber.Segment{}
	}
	return storage.TranscriptSet{
		Text: result.Text,
		Full: FullResult{
			Text:     result.Text,
			Segments: segments,
			Language: result.Language,
			Duration: result.Duration,
			Metadata: ResultMetadata{
				JobID:             job.ID,
				Filename:          job.Filename,
				MediaType:         job.MediaType,
				RequestedLanguage: job.Language,
				Model:             result.Model,
				TranscribedAt:     s.now(),
			},
		},
		Segments: segments,
	}
}

func NewService(
	repo repository.JobRepository,
	artifacts ArtifactStore,
	tr transcriber.Transcriber,
	mirror storage.Mirror,
	cfg config.Transcriber,
) TranscriptionService {
	hints := cfg.Hints
	if hints == nil {
		hints = config.DefaultHints
	}
	return &service{
		repo:        repo,
		artifacts:   artifacts,
		transcriber: tr,
		mirror:      mirror,
		hints:       hints,
		timeout:     cfg.Timeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}
