package service

import (
	"context"
	"time"
	"transcribe-api/repository"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// uploadGracePeriod keeps fresh uploads whose job row is not written yet.
const uploadGracePeriod = time.Hour

type SweepReport struct {
	Transcripts int
	Uploads     int
}

// Sweeper removes artifacts that no job references anymore. Staged transcripts are left
// alone; they belong to running workers or to Recover.
type Sweeper struct {
	repo      repository.JobRepository
	artifacts ArtifactStore
	cron      *cron.Cron
	now       func() time.Time
}

func NewSweeper(repo repository.JobRepository, artifacts ArtifactStore, c *cron.Cron) *Sweeper {
	return &Sweeper{
		repo:      repo,
		artifacts: artifacts,
		cron:      c,
		now:       time.Now,
	}
}

// Schedule registers Sweep on a cron schedule. An empty schedule disables sweeping.
func (s *Sweeper) Schedule(ctx context.Context, schedule string) error {
	if schedule == "" {
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() {
		report, err := s.Sweep(ctx)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("sweep failed")
			return
		}
		zerolog.Ctx(ctx).Info().Int("transcripts", report.Transcripts).Int("uploads", report.Uploads).Msg("sweep finished")
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("schedule", schedule).Msg("artifact sweeper scheduled")
	return nil
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	committed, _, err := s.artifacts.TranscriptJobIDs()
	if err != nil {
		return report, err
	}
	if len(committed) > 0 {
		existing, err := s.repo.ExistingJobIDs(ctx, committed)
		if err != nil {
			return report, err
		}
		for _, id := range committed {
			if existing[id] {
				continue
			}
			if err := s.artifacts.RemoveTranscripts(id); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Uint("job_id", id).Msg("failed to remove orphaned transcripts")
				continue
			}
			report.Transcripts++
		}
	}

	uploads, err := s.artifacts.Uploads()
	if err != nil {
		return report, err
	}
	if len(uploads) == 0 {
		return report, nil
	}
	referenced, err := s.repo.ListAudioPaths(ctx)
	if err != nil {
		return report, err
	}
	cutoff := s.now().Add(-uploadGracePeriod)
	for _, upload := range uploads {
		if referenced[upload.Path] || upload.ModTime.After(cutoff) {
			continue
		}
		if err := s.artifacts.RemoveUpload(upload.Path); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", upload.Path).Msg("failed to remove orphaned upload")
			continue
		}
		report.Uploads++
	}
	return report, nil
}
