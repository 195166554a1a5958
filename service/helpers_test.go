package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"testing"
	"time"
	_ "time/tzdata"
	"worker-notes/config"
	"worker-notes/entities"
	"worker-notes/repository"
)

func newTestRepo(t *testing.T) repository.AssemblyRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&entities.Course{}))
	repo := repository.NewRepoWithGorm(db)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func createCourse(t *testing.T, repo repository.AssemblyRepository, slug string, classTime, timeZone *string) *entities.Course {
	t.Helper()
	course := &entities.Course{ID: uuid.New(), Slug: slug, ClassTime: classTime, TimeZone: timeZone}
	require.NoError(t, repo.GetDB().Create(course).Error)
	return course
}

func createUpload(t *testing.T, repo repository.AssemblyRepository, course *entities.Course, lecture int, uploadedAt time.Time, text *string) *entities.UploadRecord {
	t.Helper()
	upload := &entities.UploadRecord{
		UserId:          uuid.New(),
		CourseId:        course.ID,
		Lecture:         lecture,
		ImageObjectName: "uploads/" + uuid.NewString() + ".jpg",
		ExtractedText:   text,
		UploadedAt:      uploadedAt,
	}
	require.NoError(t, repo.GetDB().Create(upload).Error)
	return upload
}

func testPolicy() DeferralPolicy {
	return DeferralPolicy{Days: 1, Interval: 10 * time.Minute, Location: time.UTC}
}

func testSchedulerConfig() config.Scheduler {
	return config.Scheduler{
		SweepPeriod:      time.Hour,
		DeferralDays:     1,
		DeferralInterval: 10 * time.Minute,
		TimeZone:         "UTC",
		Location:         time.UTC,
		ClaimTTL:         30 * time.Minute,
		Workers:          2,
		BatchSize:        100,
	}
}

func ptr[T any](v T) *T {
	return &v
}
