package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"transcribe-api/dto"
	"transcribe-api/pkg/rabbitmq"
	"transcribe-api/service"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type ServiceDependencies struct {
	TranscriptionService service.TranscriptionService
}

// JobHandler decodes a broker delivery and runs the job it names.
func JobHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	job, err := DecodeJobMessage(msg.Body)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job message")
		return err
	}

	return ProcessJob(ctx, job, deps)
}

// ProcessJob is the in-process entry point shared by the worker pool and the consumer.
func ProcessJob(ctx context.Context, job dto.JobMessage, deps ServiceDependencies) error {
	zerolog.Ctx(ctx).Debug().Uint("job_id", job.JobId).Str("file_name", job.FileName).Msg("received job message")
	return deps.TranscriptionService.Process(ctx, job)
}

func DecodeJobMessage(body []byte) (dto.JobMessage, error) {
	var job dto.JobMessage
	if err := json.Unmarshal(body, &job); err != nil {
		return dto.JobMessage{}, fmt.Errorf("%w: %w", rabbitmq.ErrMalformedMessage, err)
	}
	if job.JobId == 0 {
		return dto.JobMessage{}, fmt.Errorf("%w: missing job id", rabbitmq.ErrMalformedMessage)
	}
	return job, nil
}
