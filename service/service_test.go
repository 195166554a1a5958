package service

import (
	"bytes"
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
	"worker-notes/dto"
	"worker-notes/entities"
	"worker-notes/pkg/collaborator"
	"worker-notes/pkg/enhancer"
	"worker-notes/pkg/storage"
	"worker-notes/repository"
)

type fakeEnhancer struct {
	err error
}

func (e fakeEnhancer) Enhance(imageBytes []byte) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte("enhanced:"), imageBytes...), nil
}

func (e fakeEnhancer) Crop(imageBytes []byte) ([]byte, bool, error) {
	return imageBytes, false, e.err
}

type recordingExtractor struct {
	text     string
	err      error
	calls    int
	lastMime string
	lastData []byte
}

func (e *recordingExtractor) Extract(_ context.Context, image []byte, mimeType string) (string, error) {
	e.calls++
	e.lastMime = mimeType
	e.lastData = image
	return e.text, e.err
}

type uploadFixture struct {
	repo      repository.AssemblyRepository
	store     *storage.MemoryStore
	extractor *recordingExtractor
	enhancer  enhancer.Enhancer
	course    *entities.Course
}

func newUploadFixture(t *testing.T, classTime, timeZone *string) *uploadFixture {
	repo := newTestRepo(t)
	return &uploadFixture{
		repo:      repo,
		store:     storage.NewMemoryStore(),
		extractor: &recordingExtractor{text: "  derivatives  "},
		enhancer:  fakeEnhancer{},
		course:    createCourse(t, repo, "calculus", classTime, timeZone),
	}
}

func (f *uploadFixture) processor() UploadProcessor {
	return NewUploadProcessor(f.repo, f.store, f.enhancer, f.extractor, NewScheduler(f.repo, testPolicy()), false)
}

func (f *uploadFixture) upload(t *testing.T, lecture int, uploadedAt time.Time) *entities.UploadRecord {
	t.Helper()
	u := createUpload(t, f.repo, f.course, lecture, uploadedAt, nil)
	require.NoError(t, f.store.Put(context.Background(), u.ImageObjectName, pngPage(t), "image/png"))
	return u
}

func pngPage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 1, color.Gray{Y: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessUpload(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)
	uploadedAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	u := f.upload(t, 2, uploadedAt)

	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: u.ID}))

	got, err := f.repo.FindUploadById(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "derivatives", *got.ExtractedText)
	require.NotNil(t, got.EnhancedObjectName)
	assert.Equal(t, "enhanced/"+u.ID.String()+".png", *got.EnhancedObjectName)
	assert.Equal(t, "image/png", f.extractor.lastMime)
	assert.True(t, bytes.HasPrefix(f.extractor.lastData, []byte("enhanced:")))

	enhanced, err := f.store.Get(ctx, *got.EnhancedObjectName)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(enhanced, []byte("enhanced:")))

	assemblies, err := f.repo.ListPendingAssembliesByCourse(ctx, f.course.ID)
	require.NoError(t, err)
	require.Len(t, assemblies, 1)
	a := assemblies[0]
	assert.Equal(t, 2, a.Lecture)
	assert.True(t, uploadedAt.Equal(a.CreatedAt))
	require.NotNil(t, a.DueAt)
	assert.True(t, uploadedAt.Add(10*time.Minute).Equal(*a.DueAt))
	assert.Equal(t, "derivatives", a.AggregatedText)
}

func TestProcessUpload_SecondUploadKeepsDueTime(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, ptr("14:40"), nil)
	first := f.upload(t, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	second := f.upload(t, 1, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))

	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: first.ID}))
	f.extractor.text = "integrals"
	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: second.ID}))

	assemblies, err := f.repo.ListPendingAssembliesByCourse(ctx, f.course.ID)
	require.NoError(t, err)
	require.Len(t, assemblies, 1)
	assert.True(t, time.Date(2024, 3, 5, 14, 40, 0, 0, time.UTC).Equal(*assemblies[0].DueAt))
	assert.Equal(t, "derivatives\n\nintegrals", assemblies[0].AggregatedText)
}

func TestProcessUpload_DecodeFailureUsesOriginal(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)
	f.enhancer = fakeEnhancer{err: errors.Join(enhancer.ErrImageDecode, errors.New("bad header"))}
	u := f.upload(t, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))

	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: u.ID}))

	got, err := f.repo.FindUploadById(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EnhancedObjectName)
	assert.Equal(t, "derivatives", *got.ExtractedText)
	assert.Equal(t, "image/png", f.extractor.lastMime)
	assert.Equal(t, pngPage(t), f.extractor.lastData)
	assert.Len(t, f.store.Objects(), 1)
}

func TestProcessUpload_ExtractionFailureUsesPlaceholder(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)
	f.extractor.err = errors.Join(collaborator.ErrExtraction, context.DeadlineExceeded)
	u := f.upload(t, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))

	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: u.ID}))

	got, err := f.repo.FindUploadById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, collaborator.ExtractionErrorText, *got.ExtractedText)
}

func TestProcessUpload_RedeliveryDoesNotReExtract(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)
	u := f.upload(t, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	msg := dto.UploadStoredMessage{UploadId: u.ID}

	require.NoError(t, f.processor().ProcessUpload(ctx, msg))
	f.extractor.text = "changed"
	require.NoError(t, f.processor().ProcessUpload(ctx, msg))
	assert.Equal(t, 1, f.extractor.calls)

	got, err := f.repo.FindUploadById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "derivatives", *got.ExtractedText)

	msg.Reprocess = true
	require.NoError(t, f.processor().ProcessUpload(ctx, msg))
	got, err = f.repo.FindUploadById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", *got.ExtractedText)
}

func TestProcessUpload_NonRetryable(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)

	err := f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: uuid.New()})
	assert.ErrorIs(t, err, ErrNonRetryable)

	missingImage := createUpload(t, f.repo, f.course, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), nil)
	err = f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: missingImage.ID})
	assert.ErrorIs(t, err, ErrNonRetryable)
}

func TestProcessUpload_InvalidScheduleLeavesDueUnset(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, ptr("14:40"), ptr("Atlantis/Capital"))
	u := f.upload(t, 1, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))

	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: u.ID}))

	assemblies, err := f.repo.ListPendingAssembliesByCourse(ctx, f.course.ID)
	require.NoError(t, err)
	require.Len(t, assemblies, 1)
	assert.Nil(t, assemblies[0].DueAt)
	assert.Equal(t, "derivatives", assemblies[0].AggregatedText)
}

func TestProcessUpload_GeneratedAssemblyUntouched(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil, nil)
	uploadedAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	first := f.upload(t, 1, uploadedAt)
	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: first.ID}))

	assemblies, err := f.repo.ListPendingAssembliesByCourse(ctx, f.course.ID)
	require.NoError(t, err)
	a := assemblies[0]
	now := a.DueAt.Add(time.Minute)
	ok, err := f.repo.ClaimAssembly(ctx, a.ID, "sweep", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.repo.MarkAssemblyGenerated(ctx, a.ID, "sweep", "derivatives", "final_pdfs/x.pdf", now))

	late := f.upload(t, 1, now.Add(time.Hour))
	require.NoError(t, f.processor().ProcessUpload(ctx, dto.UploadStoredMessage{UploadId: late.ID}))

	got, err := f.repo.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Generated)
	assert.Equal(t, "derivatives", got.AggregatedText)
	assert.True(t, a.DueAt.Equal(*got.DueAt))
}
