package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-notes/dto"
	"worker-notes/repository"
	"worker-notes/service"
)

var ErrInvalidMessage = errors.New("invalid message")

type ServiceDependencies struct {
	UploadProcessor service.UploadProcessor
	Scheduler       service.Scheduler
	Validate        *validator.Validate
}

func NewServiceDependencies(uploads service.UploadProcessor, scheduler service.Scheduler) ServiceDependencies {
	return ServiceDependencies{
		UploadProcessor: uploads,
		Scheduler:       scheduler,
		Validate:        validator.New(),
	}
}

// decode rejects malformed or incomplete payloads permanently; redelivering them
// cannot succeed.
func decode(body []byte, v any, validate *validator.Validate) error {
	if err := json.Unmarshal(body, v); err != nil {
		return backoff.Permanent(errors.Join(ErrInvalidMessage, err))
	}
	if err := validate.Struct(v); err != nil {
		return backoff.Permanent(errors.Join(ErrInvalidMessage, err))
	}
	return nil
}

func UploadHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.UploadStoredMessage
	if err := decode(msg.Body, &message, deps.Validate); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to decode upload message")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("upload_id", message.UploadId.String()).
		Bool("reprocess", message.Reprocess).
		Msg("received upload message")

	err := deps.UploadProcessor.ProcessUpload(ctx, message)
	if err != nil {
		if errors.Is(err, service.ErrNonRetryable) {
			return backoff.Permanent(err)
		}
		return err
	}

	return nil
}

func ScheduleUpdatedHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.ScheduleUpdatedMessage
	if err := decode(msg.Body, &message, deps.Validate); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to decode schedule message")
		return err
	}

	zerolog.Ctx(ctx).Info().Str("course_id", message.CourseId.String()).Msg("received schedule update")

	_, err := deps.Scheduler.RescheduleAssembliesFor(ctx, message.CourseId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, service.ErrScheduleComputation) {
			return backoff.Permanent(fmt.Errorf("reschedule course %s: %w", message.CourseId, err))
		}
		return err
	}

	return nil
}
