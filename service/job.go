package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"transcribe-api/constant"
	"transcribe-api/dto"
	"transcribe-api/entities"
	"transcribe-api/repository"
	"transcribe-api/storage"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

var (
	ErrUnsupportedFormat     = errors.New("unsupported file format")
	ErrInvalidLanguage       = errors.New("invalid language")
	ErrDispatch              = errors.New("could not schedule transcription")
	ErrJobNotCompleted       = errors.New("transcription not yet completed")
	ErrInvalidDownloadFormat = errors.New("invalid format. Use 'txt', 'json', or 'segments'")
)

// AllowedExtensions are the upload suffixes accepted, compared case-insensitively.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".mp4", ".ogg", ".flac", ".webm"}

var downloadFormats = map[string]constant.TranscriptFormat{
	"txt":      constant.TranscriptFormatText,
	"json":     constant.TranscriptFormatFull,
	"segments": constant.TranscriptFormatSegments,
}

// Download is a resolved transcript artifact ready to be served.
type Download struct {
	Path        string
	FileName    string
	ContentType string
}

type JobService interface {
	Submit(ctx context.Context, filename, language string, r io.Reader) (*entities.Job, error)
	List(ctx context.Context, skip, limit int) ([]*entities.Job, error)
	Get(ctx context.Context, id uint) (*entities.Job, error)
	Delete(ctx context.Context, id uint) error
	Download(ctx context.Context, id uint, format string) (*Download, error)
}

type jobService struct {
	repo            repository.JobRepository
	artifacts       ArtifactStore
	dispatcher      Dispatcher
	mirror          storage.Mirror
	cleanupOnDelete bool
}

func NewJobService(
	repo repository.JobRepository,
	artifacts ArtifactStore,
	dispatcher Dispatcher,
	mirror storage.Mirror,
	cleanupOnDelete bool,
) JobService {
	return &jobService{
		repo:            repo,
		artifacts:       artifacts,
		dispatcher:      dispatcher,
		mirror:          mirror,
		cleanupOnDelete: cleanupOnDelete,
	}
}

// Submit stores the upload, creates a pending job and schedules it. Nothing is left
// behind when scheduling fails.
func (s *jobService) Submit(ctx context.Context, filename, lang string, r io.Reader) (*entities.Job, error) {
	if err := ValidateExtension(filename); err != nil {
		return nil, err
	}
	lang, err := NormalizeLanguage(lang)
	if err != nil {
		return nil, err
	}

	upload, err := s.artifacts.SaveUpload(filename, r)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job := &entities.Job{
		Filename:  filename,
		Language:  lang,
		AudioPath: upload.Path,
		MediaType: upload.MediaType,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.removeUpload(ctx, upload.Path)
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger := zerolog.Ctx(ctx).With().Uint("job_id", job.ID).Logger()
	err = s.dispatcher.Dispatch(ctx, dto.JobMessage{JobId: job.ID, AudioPath: job.AudioPath, FileName: job.Filename})
	if err != nil {
		logger.Error().Err(err).Msg("failed to dispatch job")
		if _, delErr := s.repo.DeleteJob(context.WithoutCancel(ctx), job.ID); delErr != nil {
			logger.Error().Err(delErr).Msg("failed to roll back job")
		}
		s.removeUpload(ctx, upload.Path)
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	logger.Info().
		Str("filename", job.Filename).
		Str("language", job.Language).
		Str("media_type", job.MediaType).
		Int64("size", upload.Size).
		Msg("job submitted")
	return job, nil
}

func (s *jobService) List(ctx context.Context, skip, limit int) ([]*entities.Job, error) {
	return s.repo.ListJobs(ctx, skip, limit)
}

func (s *jobService) Get(ctx context.Context, id uint) (*entities.Job, error) {
	return s.repo.FindJobById(ctx, id)
}

// Delete removes the job record. Its files are kept unless cleanup on delete is enabled.
func (s *jobService) Delete(ctx context.Context, id uint) error {
	var job *entities.Job
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		found, err := s.repo.FindJobById(ctx, id)
		if err != nil {
			return err
		}
		deleted, err := s.repo.DeleteJob(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return repository.ErrJobNotFound
		}
		job = found
		return nil
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Uint("job_id", id).Bool("cleanup", s.cleanupOnDelete).Msg("job deleted")
	if s.cleanupOnDelete {
		s.cleanup(ctx, job)
	}
	return nil
}

func (s *jobService) cleanup(ctx context.Context, job *entities.Job) {
	logger := zerolog.Ctx(ctx).With().Uint("job_id", job.ID).Logger()
	if err := s.artifacts.RemoveTranscripts(job.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to remove transcripts")
	}
	if job.AudioPath != "" {
		s.removeUpload(ctx, job.AudioPath)
	}
	if s.mirror != nil {
		if err := s.mirror.RemoveTranscripts(ctx, job.ID); err != nil {
			logger.Warn().Err(err).Msg("failed to remove mirrored transcripts")
		}
	}
}

func (s *jobService) removeUpload(ctx context.Context, path string) {
	if err := s.artifacts.RemoveUpload(path); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("failed to remove upload")
	}
}

// Download resolves the artifact of a completed job. Checks run in order: job exists,
// job completed, format known, file present.
func (s *jobService) Download(ctx context.Context, id uint, format string) (*Download, error) {
	job, err := s.repo.FindJobById(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != constant.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	transcriptFormat, ok := downloadFormats[format]
	if !ok {
		return nil, ErrInvalidDownloadFormat
	}
	path, err := s.artifacts.TranscriptPath(id, transcriptFormat)
	if err != nil {
		return nil, err
	}

	contentType := "application/json"
	if transcriptFormat == constant.TranscriptFormatText {
		contentType = "text/plain; charset=utf-8"
	}
	return &Download{
		Path:        path,
		FileName:    filepath.Base(path),
		ContentType: contentType,
	}, nil
}

func ValidateExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w. Allowed: %s", ErrUnsupportedFormat, strings.Join(AllowedExtensions, ", "))
}

// NormalizeLanguage maps empty or "auto" to auto-detection and any other value to its
// base language code.
func NormalizeLanguage(raw string) (string, error) {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, constant.LanguageAuto) {
		return constant.LanguageAuto, nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, raw)
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, raw)
	}
	return base.String(), nil
}
