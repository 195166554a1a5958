package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"testing"
	"time"
	"worker-notes/entities"
)

var base = time.Date(2024, time.March, 4, 14, 40, 0, 0, time.UTC)

func newTestRepo(t *testing.T) AssemblyRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: utcNow,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := NewRepoWithGorm(db)
	require.NoError(t, db.AutoMigrate(&entities.Course{}))
	require.NoError(t, r.AutoMigrate(context.Background()))
	return r
}

func createAssembly(t *testing.T, r AssemblyRepository, lecture int, dueAt *time.Time) *entities.LectureAssembly {
	t.Helper()
	ctx := context.Background()
	a, created, err := r.CreateAssemblyIfAbsent(ctx, uuid.New(), lecture, base)
	require.NoError(t, err)
	require.True(t, created)
	if dueAt != nil {
		ok, err := r.SetAssemblyDueAt(ctx, a.ID, *dueAt)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return a
}

func ptr[T any](v T) *T {
	return &v
}

func TestCreateAssemblyIfAbsent_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	courseId := uuid.New()

	first, created, err := r.CreateAssemblyIfAbsent(ctx, courseId, 3, base)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := r.CreateAssemblyIfAbsent(ctx, courseId, 3, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, base.Equal(second.CreatedAt), "createdAt of the first insert is kept")
	assert.False(t, second.Generated)
	assert.Nil(t, second.DueAt)
}

func TestListUploadsForLecture_Ordering(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	courseId := uuid.New()

	uploads := []*entities.UploadRecord{
		{UserId: uuid.New(), CourseId: courseId, Lecture: 1, ImageObjectName: "b.jpg", UploadedAt: base.Add(2 * time.Minute)},
		{UserId: uuid.New(), CourseId: courseId, Lecture: 1, ImageObjectName: "a.jpg", UploadedAt: base},
		{UserId: uuid.New(), CourseId: courseId, Lecture: 2, ImageObjectName: "other.jpg", UploadedAt: base},
	}
	require.NoError(t, r.GetDB().Create(&uploads).Error)

	got, err := r.ListUploadsForLecture(ctx, courseId, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.jpg", got[0].ImageObjectName)
	assert.Equal(t, "b.jpg", got[1].ImageObjectName)
}

func TestUpdateUploadExtraction_KeepsExistingText(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	upload := &entities.UploadRecord{UserId: uuid.New(), CourseId: uuid.New(), Lecture: 1, ImageObjectName: "p.jpg", UploadedAt: base}
	require.NoError(t, r.GetDB().Create(upload).Error)

	updated, err := r.UpdateUploadExtraction(ctx, upload.ID, ptr("enhanced/p.png"), "first", false)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = r.UpdateUploadExtraction(ctx, upload.ID, nil, "second", false)
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := r.FindUploadById(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", *got.ExtractedText)
	assert.Equal(t, "enhanced/p.png", *got.EnhancedObjectName)

	updated, err = r.UpdateUploadExtraction(ctx, upload.ID, nil, "second", true)
	require.NoError(t, err)
	assert.True(t, updated)
	got, err = r.FindUploadById(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", *got.ExtractedText)
}

func TestFindById_NotFound(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	_, err := r.FindAssemblyById(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindCourseById(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindUploadById(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindDueAssemblies(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := base.Add(24 * time.Hour)

	late := createAssembly(t, r, 1, ptr(now.Add(-2*time.Hour)))
	early := createAssembly(t, r, 2, ptr(now.Add(-3*time.Hour)))
	exact := createAssembly(t, r, 3, ptr(now))
	createAssembly(t, r, 4, ptr(now.Add(time.Minute)))
	createAssembly(t, r, 5, nil)
	claimed := createAssembly(t, r, 6, ptr(now.Add(-time.Hour)))
	ok, err := r.ClaimAssembly(ctx, claimed.ID, "other", now.Add(-time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	due, err := r.FindDueAssemblies(ctx, now, 0)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []uuid.UUID{early.ID, late.ID, exact.ID}, ids)

	limited, err := r.FindDueAssemblies(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// an expired claim no longer hides the assembly
	due, err = r.FindDueAssemblies(ctx, now.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, due, 5)
}

func TestClaimAssembly_Exclusive(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := base.Add(48 * time.Hour)
	a := createAssembly(t, r, 1, ptr(now.Add(-time.Minute)))

	ok, err := r.ClaimAssembly(ctx, a.ID, "worker-a", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ClaimAssembly(ctx, a.ID, "worker-b", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live claim must not be stolen")

	ok, err = r.ClaimAssembly(ctx, a.ID, "worker-b", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim can be taken over")

	err = r.MarkAssemblyGenerated(ctx, a.ID, "worker-a", "# md", "final_pdfs/x.pdf", now)
	assert.ErrorIs(t, err, ErrClaimLost)
}

func TestClaimAssembly_NotDue(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	a := createAssembly(t, r, 1, ptr(base.Add(time.Hour)))

	ok, err := r.ClaimAssembly(ctx, a.ID, "worker", base, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseClaim(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := base.Add(time.Hour)
	a := createAssembly(t, r, 1, ptr(base))

	ok, err := r.ClaimAssembly(ctx, a.ID, "worker-a", now, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.ReleaseClaim(ctx, a.ID, "someone-else"))
	got, err := r.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimToken)

	require.NoError(t, r.ReleaseClaim(ctx, a.ID, "worker-a"))
	got, err = r.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimToken)
	assert.Nil(t, got.ClaimExpiresAt)
	assert.False(t, got.Generated)
}

func TestMarkAssemblyGenerated(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := base.Add(time.Hour)
	a := createAssembly(t, r, 1, ptr(base))

	ok, err := r.ClaimAssembly(ctx, a.ID, "worker", now, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.MarkAssemblyGenerated(ctx, a.ID, "worker", "# Lecture", "final_pdfs/x.pdf", now))

	got, err := r.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Generated)
	assert.Equal(t, "# Lecture", *got.Markdown)
	assert.Equal(t, "final_pdfs/x.pdf", *got.PdfObjectName)
	assert.Nil(t, got.ClaimToken)
	require.NotNil(t, got.GeneratedAt)
	assert.True(t, now.Equal(*got.GeneratedAt))

	updated, err := r.SetAssemblyDueAt(ctx, a.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, updated, "generated assemblies keep their due time")

	pending, err := r.ListPendingAssembliesByCourse(ctx, a.CourseId)
	require.NoError(t, err)
	assert.Empty(t, pending)

	due, err := r.FindDueAssemblies(ctx, now.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	a := createAssembly(t, r, 1, nil)
	boom := errors.New("boom")

	err := r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.UpdateAggregatedText(ctx, a.ID, "inside"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := r.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.AggregatedText)

	require.NoError(t, r.Transaction(ctx, func(ctx context.Context) error {
		return r.UpdateAggregatedText(ctx, a.ID, "committed")
	}))
	got, err = r.FindAssemblyById(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "committed", got.AggregatedText)
}
