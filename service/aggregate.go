package service

import (
	"bytes"
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"slices"
	"strings"
	"time"
	"worker-notes/config"
	"worker-notes/entities"
	"worker-notes/pkg/cache"
	"worker-notes/pkg/collaborator"
)

// NoExtractedText stands in for an upload that has not been through OCR yet.
const NoExtractedText = "(No extracted text)"

const fragmentSeparator = "\n\n"

type Fragment struct {
	ID          uuid.UUID
	Contributor string
	Text        *string
	UploadedAt  time.Time
}

func FragmentsFromUploads(uploads []*entities.UploadRecord) []Fragment {
	fragments := make([]Fragment, 0, len(uploads))
	for _, u := range uploads {
		f := Fragment{ID: u.ID, Text: u.ExtractedText, UploadedAt: u.UploadedAt}
		if u.Contributor != nil {
			f.Contributor = strings.TrimSpace(*u.Contributor)
		}
		fragments = append(fragments, f)
	}
	return fragments
}

// Aggregate joins fragments by upload time, ties broken by id, with a blank line
// between them. A non-blank edited text replaces the concatenation.
func Aggregate(fragments []Fragment, editedText *string, withContributors bool) string {
	if editedText != nil && strings.TrimSpace(*editedText) != "" {
		return *editedText
	}

	sorted := slices.Clone(fragments)
	slices.SortStableFunc(sorted, func(a, b Fragment) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	parts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		text := NoExtractedText
		if f.Text != nil && strings.TrimSpace(*f.Text) != "" {
			text = strings.TrimSpace(*f.Text)
		}
		if withContributors && f.Contributor != "" {
			text = f.Contributor + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, fragmentSeparator)
}

type Aggregator interface {
	Structure(ctx context.Context, raw string) string
}

type aggregator struct {
	structurer collaborator.Structurer
	cache      cache.Client
	timeout    time.Duration
	cacheTTL   time.Duration
}

// NewAggregator wires the structuring collaborator. cacheClient may be nil.
func NewAggregator(structurer collaborator.Structurer, cacheClient cache.Client, cfg config.Collaborators) Aggregator {
	return &aggregator{
		structurer: structurer,
		cache:      cacheClient,
		timeout:    cfg.Timeout,
		cacheTTL:   cfg.CacheTTL,
	}
}

// Structure never fails: any structuring error, timeout or blank answer yields raw.
func (a *aggregator) Structure(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" || a.structurer == nil {
		return raw
	}

	key := cache.StructuredKey(raw)
	if a.cache != nil {
		cached, err := a.cache.Get(ctx, key)
		if err == nil {
			zerolog.Ctx(ctx).Debug().Str("key", key).Msg("structured text served from cache")
			return string(cached)
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to read structuring cache")
		}
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	markdown, err := a.structurer.Structure(callCtx, raw)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("structuring failed, using raw text")
		return raw
	}
	if strings.TrimSpace(markdown) == "" {
		zerolog.Ctx(ctx).Warn().Msg("structuring returned nothing, using raw text")
		return raw
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, []byte(markdown), a.cacheTTL); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to write structuring cache")
		}
	}
	return markdown
}
