package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"net/http"
	"worker-notes/constant"
	"worker-notes/dto"
	"worker-notes/entities"
	"worker-notes/pkg/collaborator"
	"worker-notes/pkg/enhancer"
	"worker-notes/pkg/storage"
	"worker-notes/repository"
)

var ErrNonRetryable = errors.New("non-retryable error")

type UploadProcessor interface {
	ProcessUpload(ctx context.Context, message dto.UploadStoredMessage) error
}

type uploadProcessor struct {
	repo             repository.AssemblyRepository
	store            storage.ObjectStore
	enhancer         enhancer.Enhancer
	extractor        collaborator.Extractor
	scheduler        Scheduler
	withContributors bool
}

func NewUploadProcessor(
	repo repository.AssemblyRepository,
	store storage.ObjectStore,
	enh enhancer.Enhancer,
	extractor collaborator.Extractor,
	scheduler Scheduler,
	withContributors bool,
) UploadProcessor {
	return &uploadProcessor{
		repo:             repo,
		store:            store,
		enhancer:         enh,
		extractor:        extractor,
		scheduler:        scheduler,
		withContributors: withContributors,
	}
}

func EnhancedObjectName(upload *entities.UploadRecord) string {
	return fmt.Sprintf("%s/%s.png", constant.ObjectPrefixEnhanced, upload.ID)
}

// ProcessUpload extracts the text of one stored page and keeps the lecture assembly
// scheduled and its aggregated snapshot current. Re-delivery is harmless: an upload
// that already has text is only re-extracted when the message asks for it.
func (p *uploadProcessor) ProcessUpload(ctx context.Context, message dto.UploadStoredMessage) (err error) {
	zerolog.Ctx(ctx).Info().Str("upload_id", message.UploadId.String()).Msg("processing upload")

	defer func() {
		if err != nil && errors.Is(err, ErrNonRetryable) {
			zerolog.Ctx(ctx).Error().Err(err).Str("upload_id", message.UploadId.String()).Msg("upload cannot be processed")
		}
	}()

	upload, err := p.repo.FindUploadById(ctx, message.UploadId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to find upload by id")
		if errors.Is(err, repository.ErrNotFound) {
			return errors.Join(ErrNonRetryable, err)
		}
		return err
	}
	if upload.Lecture < 1 {
		return errors.Join(ErrNonRetryable, fmt.Errorf("upload %s has invalid lecture number %d", upload.ID, upload.Lecture))
	}

	if upload.ExtractedText == nil || message.Reprocess {
		if err = p.extract(ctx, upload, message.Reprocess); err != nil {
			return err
		}
	} else {
		zerolog.Ctx(ctx).Info().Str("upload_id", upload.ID.String()).Msg("upload already extracted")
	}

	assembly, created, err := p.repo.CreateAssemblyIfAbsent(ctx, upload.CourseId, upload.Lecture, upload.UploadedAt)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to ensure lecture assembly")
		return err
	}
	if created {
		zerolog.Ctx(ctx).Info().Str("assembly_id", assembly.ID.String()).Int("lecture", assembly.Lecture).Msg("lecture assembly created")
	}

	if assembly.Generated {
		zerolog.Ctx(ctx).Info().Str("assembly_id", assembly.ID.String()).Msg("lecture already generated, upload not merged")
		return nil
	}

	if assembly.DueAt == nil {
		if _, err = p.scheduler.ScheduleAssembly(ctx, assembly); err != nil {
			if !errors.Is(err, ErrScheduleComputation) {
				return err
			}
			// the assembly waits unscheduled until the course is corrected
			zerolog.Ctx(ctx).Warn().Err(err).Str("assembly_id", assembly.ID.String()).Msg("assembly left unscheduled")
			err = nil
		}
	}

	uploads, err := p.repo.ListUploadsForLecture(ctx, upload.CourseId, upload.Lecture)
	if err != nil {
		return err
	}
	raw := Aggregate(FragmentsFromUploads(uploads), assembly.EditedText, p.withContributors)
	if err = p.repo.UpdateAggregatedText(ctx, assembly.ID, raw); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update aggregated text")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("upload_id", upload.ID.String()).
		Str("assembly_id", assembly.ID.String()).
		Int("fragments", len(uploads)).
		Msg("upload processed")
	return nil
}

// extract normalizes the page, stores the enhanced variant and records the OCR
// fragment. Undecodable pages are sent to OCR unmodified.
func (p *uploadProcessor) extract(ctx context.Context, upload *entities.UploadRecord, overwrite bool) error {
	original, err := p.store.Get(ctx, upload.ImageObjectName)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("object", upload.ImageObjectName).Msg("failed to download image")
		if errors.Is(err, storage.ErrObjectNotFound) {
			return errors.Join(ErrNonRetryable, err)
		}
		return err
	}

	image, mimeType := original, http.DetectContentType(original)
	var enhancedName *string
	enhanced, err := p.enhancer.Enhance(original)
	switch {
	case errors.Is(err, enhancer.ErrImageDecode):
		zerolog.Ctx(ctx).Warn().Err(err).Msg("image could not be normalized, using original")
	case err != nil:
		return err
	default:
		name := EnhancedObjectName(upload)
		if err := p.store.Put(ctx, name, enhanced, constant.ContentTypePNG); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to upload enhanced image")
			return err
		}
		image, mimeType, enhancedName = enhanced, constant.ContentTypePNG, &name
	}

	text := collaborator.ExtractOrPlaceholder(ctx, p.extractor, image, mimeType)
	updated, err := p.repo.UpdateUploadExtraction(ctx, upload.ID, enhancedName, text, overwrite)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to store extracted text")
		return err
	}
	if !updated {
		zerolog.Ctx(ctx).Info().Str("upload_id", upload.ID.String()).Msg("extracted text already present, kept")
	}
	return nil
}
