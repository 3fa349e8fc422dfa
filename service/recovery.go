package service

import (
	"context"
	"errors"
	"time"
	"transcribe-api/constant"
	"transcribe-api/dto"
	"transcribe-api/pkg/workerpool"
	"transcribe-api/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Recover repairs state left by a previous process. It must run before any worker starts:
// jobs still marked processing are failed, and staged transcripts are committed when
// their job completed and discarded otherwise.
func Recover(ctx context.Context, repo repository.JobRepository, artifacts ArtifactStore) error {
	logger := zerolog.Ctx(ctx)

	failed, err := repo.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		logger.Warn().Int64("jobs", failed).Msg("failed jobs interrupted by shutdown")
	}

	_, staged, err := artifacts.TranscriptJobIDs()
	if err != nil {
		return err
	}
	for _, id := range staged {
		set := artifacts.Restage(id)
		job, err := repo.FindJobById(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrJobNotFound) {
			return err
		}
		if job != nil && job.Status == constant.JobStatusCompleted {
			if err := set.Commit(); err != nil {
				logger.Error().Err(err).Uint("job_id", id).Msg("failed to commit staged transcripts")
				continue
			}
			logger.Info().Uint("job_id", id).Msg("committed staged transcripts")
			continue
		}
		set.Discard()
		logger.Info().Uint("job_id", id).Msg("discarded staged transcripts")
	}
	return nil
}

// RedispatchPending schedules every pending job again. A full queue is retried with
// backoff; a job already claimed by another dispatch is skipped by the worker.
func RedispatchPending(ctx context.Context, repo repository.JobRepository, dispatcher Dispatcher) error {
	jobs, err := repo.ListPendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		msg := dto.JobMessage{JobId: job.ID, AudioPath: job.AudioPath, FileName: job.Filename}
		operation := func() (struct{}, error) {
			err := dispatcher.Dispatch(ctx, msg)
			if err != nil && !errors.Is(err, workerpool.ErrQueueFull) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = 10 * time.Second
		if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo)); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Uint("job_id", job.ID).Msg("failed to redispatch pending job")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		zerolog.Ctx(ctx).Info().Uint("job_id", job.ID).Msg("redispatched pending job")
	}
	return nil
}
