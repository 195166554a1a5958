package server

import (
	"context"
	"github.com/rs/zerolog"
	"worker-notes/config"
	"worker-notes/pkg/cache"
	"worker-notes/pkg/collaborator"
	"worker-notes/pkg/enhancer"
	"worker-notes/pkg/pdfrender"
	"worker-notes/pkg/storage"
	"worker-notes/repository"
	"worker-notes/service"
)

// Dependencies is the object graph shared by the long-running server and the
// one-shot commands.
type Dependencies struct {
	Repo            repository.AssemblyRepository
	Store           storage.ObjectStore
	Scheduler       service.Scheduler
	UploadProcessor service.UploadProcessor
	SweepWorker     service.SweepWorker
	cache           cache.Client
}

func (d *Dependencies) Close() {
	if d.cache != nil {
		_ = d.cache.Close()
	}
}

// Ping checks the database connection behind the repository.
func (d *Dependencies) Ping(ctx context.Context) error {
	sqlDB, err := d.Repo.GetDB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		return nil, err
	}

	if err := storage.EnsureBucket(ctx, cfg.Storage, cfg.MinIOBucket); err != nil {
		return nil, err
	}
	store := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket)

	policy, err := service.NewDeferralPolicy(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	scheduler := service.NewScheduler(repo, policy)

	extractor, structurer := newCollaborators(ctx, cfg.Collaborators)
	cacheClient := newCache(ctx, cfg.Redis)

	aggregator := service.NewAggregator(structurer, cacheClient, cfg.Collaborators)
	enh := enhancer.New(enhancer.WithDocumentDetection(cfg.Enhancer.DocumentDetection))

	return &Dependencies{
		Repo:            repo,
		Store:           store,
		Scheduler:       scheduler,
		UploadProcessor: service.NewUploadProcessor(repo, store, enh, extractor, scheduler, cfg.Scheduler.WithContributors),
		SweepWorker:     service.NewSweepWorker(repo, store, aggregator, pdfrender.New(), cfg.Scheduler),
		cache:           cacheClient,
	}, nil
}

func newCollaborators(ctx context.Context, cfg config.Collaborators) (collaborator.Extractor, collaborator.Structurer) {
	if cfg.APIKey == "" {
		zerolog.Ctx(ctx).Warn().Msg("no collaborator api key, OCR and structuring use their fallbacks")
		return collaborator.Disabled{}, collaborator.Disabled{}
	}
	gemini, err := collaborator.NewGemini(ctx, collaborator.GeminiConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create gemini client, OCR and structuring use their fallbacks")
		return collaborator.Disabled{}, collaborator.Disabled{}
	}
	return gemini, gemini
}

// newCache returns nil when no Redis address is configured and an in-process cache
// when Redis is configured but unreachable.
func newCache(ctx context.Context, cfg config.Redis) cache.Client {
	if cfg.Addr == "" {
		return nil
	}
	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("redis unavailable, caching structured text in memory")
		return cache.NewMemoryClient()
	}
	return client
}
