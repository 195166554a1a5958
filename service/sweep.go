package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"sync"
	"sync/atomic"
	"time"
	"worker-notes/config"
	"worker-notes/constant"
	"worker-notes/entities"
	"worker-notes/pkg/pdfrender"
	"worker-notes/pkg/storage"
	"worker-notes/repository"
)

type SweepResult struct {
	Due       int
	Generated int
	Failed    int
	Skipped   int
}

type SweepWorker interface {
	Run(ctx context.Context) error
	Sweep(ctx context.Context) (SweepResult, error)
}

type SweepOption func(*sweepWorker)

// WithClock replaces time.Now for due checks, claims and artifact names.
func WithClock(now func() time.Time) SweepOption {
	return func(w *sweepWorker) {
		w.now = now
	}
}

type sweepWorker struct {
	repo       repository.AssemblyRepository
	store      storage.ObjectStore
	aggregator Aggregator
	renderer   pdfrender.Renderer
	cfg        config.Scheduler
	now        func() time.Time
}

func NewSweepWorker(
	repo repository.AssemblyRepository,
	store storage.ObjectStore,
	aggregator Aggregator,
	renderer pdfrender.Renderer,
	cfg config.Scheduler,
	opts ...SweepOption,
) SweepWorker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	w := &sweepWorker{
		repo:       repo,
		store:      store,
		aggregator: aggregator,
		renderer:   renderer,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FinalPDFObjectName names the artifact of one generation of a lecture.
func FinalPDFObjectName(courseSlug string, lecture int, generatedAt time.Time) string {
	return fmt.Sprintf("%s/%s_lecture_%d_%d.pdf", constant.ObjectPrefixFinalPDF, courseSlug, lecture, generatedAt.Unix())
}

// Run sweeps once immediately and then on every period until ctx is done. Sweeps
// run one after another on this goroutine, so a slow sweep delays the next tick
// instead of overlapping it.
func (w *sweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SweepPeriod)
	defer ticker.Stop()

	zerolog.Ctx(ctx).Info().Dur("period", w.cfg.SweepPeriod).Msg("sweep worker started")
	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("sweep worker stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *sweepWorker) tick(ctx context.Context) {
	result, err := w.Sweep(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("sweep failed")
		return
	}
	zerolog.Ctx(ctx).Info().
		Int("due", result.Due).
		Int("generated", result.Generated).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("sweep finished")
}

// Sweep generates every due assembly once. A failing assembly is logged, released
// and left for the next sweep without affecting the others.
func (w *sweepWorker) Sweep(ctx context.Context) (SweepResult, error) {
	due, err := w.repo.FindDueAssemblies(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	if len(due) == 0 {
		return SweepResult{}, nil
	}

	var generated, failed, skipped atomic.Int64
	jobs := make(chan *entities.LectureAssembly)
	numWorkers := min(w.cfg.Workers, len(due))

	var wg sync.WaitGroup
	for i := 1; i <= numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for assembly := range jobs {
				logger := zerolog.Ctx(ctx).With().
					Int("worker", workerId).
					Str("assembly_id", assembly.ID.String()).
					Int("lecture", assembly.Lecture).
					Logger()
				ok, err := w.process(logger.WithContext(ctx), assembly)
				switch {
				case err != nil:
					failed.Add(1)
					logger.Error().Err(err).Msg("failed to generate lecture notes")
				case !ok:
					skipped.Add(1)
					logger.Debug().Msg("assembly claimed elsewhere")
				default:
					generated.Add(1)
				}
			}
		}(i)
	}

	for _, assembly := range due {
		select {
		case jobs <- assembly:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return SweepResult{}, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	return SweepResult{
		Due:       len(due),
		Generated: int(generated.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}, nil
}

// process claims the assembly and generates it. false with a nil error means another
// sweep holds the claim.
func (w *sweepWorker) process(ctx context.Context, assembly *entities.LectureAssembly) (ok bool, err error) {
	token := uuid.NewString()
	claimed, err := w.repo.ClaimAssembly(ctx, assembly.ID, token, w.now(), w.cfg.ClaimTTL)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	defer func() {
		if err != nil {
			if releaseErr := w.repo.ReleaseClaim(context.WithoutCancel(ctx), assembly.ID, token); releaseErr != nil {
				zerolog.Ctx(ctx).Error().Err(releaseErr).Msg("failed to release claim")
			}
		}
	}()

	if err = w.generate(ctx, assembly, token); err != nil {
		return false, err
	}
	return true, nil
}

// generate persists the PDF before marking the assembly, so a crash in between only
// repeats the generation.
func (w *sweepWorker) generate(ctx context.Context, assembly *entities.LectureAssembly, token string) error {
	course, err := w.repo.FindCourseById(ctx, assembly.CourseId)
	if err != nil {
		return fmt.Errorf("find course: %w", err)
	}

	uploads, err := w.repo.ListUploadsForLecture(ctx, assembly.CourseId, assembly.Lecture)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	raw := Aggregate(FragmentsFromUploads(uploads), assembly.EditedText, w.cfg.WithContributors)
	if err := w.repo.UpdateAggregatedText(ctx, assembly.ID, raw); err != nil {
		return fmt.Errorf("store aggregated text: %w", err)
	}

	markdown := w.aggregator.Structure(ctx, raw)

	pdf, err := w.renderer.Render(markdown)
	if err != nil {
		return err
	}

	generatedAt := w.now()
	objectName := FinalPDFObjectName(course.Slug, assembly.Lecture, generatedAt)
	if err := w.store.Put(ctx, objectName, pdf, constant.ContentTypePDF); err != nil {
		return fmt.Errorf("store pdf: %w", err)
	}

	if err := w.repo.MarkAssemblyGenerated(ctx, assembly.ID, token, markdown, objectName, generatedAt); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			zerolog.Ctx(ctx).Warn().Str("object", objectName).Msg("claim lost after upload, artifact left unreferenced")
		}
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("object", objectName).
		Int("uploads", len(uploads)).
		Msg("lecture notes generated")
	return nil
}
