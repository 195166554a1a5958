package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"time"
	"worker-notes/entities"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrClaimLost = errors.New("assembly claim lost")
)

type AssemblyRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	AutoMigrate(ctx context.Context) error

	FindCourseById(ctx context.Context, id uuid.UUID) (*entities.Course, error)

	FindUploadById(ctx context.Context, id uuid.UUID) (*entities.UploadRecord, error)
	ListUploadsForLecture(ctx context.Context, courseId uuid.UUID, lecture int) ([]*entities.UploadRecord, error)
	UpdateUploadExtraction(ctx context.Context, id uuid.UUID, enhancedObjectName *string, text string, overwrite bool) (bool, error)

	CreateAssemblyIfAbsent(ctx context.Context, courseId uuid.UUID, lecture int, createdAt time.Time) (*entities.LectureAssembly, bool, error)
	FindAssemblyById(ctx context.Context, id uuid.UUID) (*entities.LectureAssembly, error)
	ListPendingAssembliesByCourse(ctx context.Context, courseId uuid.UUID) ([]*entities.LectureAssembly, error)
	SetAssemblyDueAt(ctx context.Context, id uuid.UUID, dueAt time.Time) (bool, error)
	UpdateAggregatedText(ctx context.Context, id uuid.UUID, text string) error

	FindDueAssemblies(ctx context.Context, now time.Time, limit int) ([]*entities.LectureAssembly, error)
	ClaimAssembly(ctx context.Context, id uuid.UUID, token string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error
	MarkAssemblyGenerated(ctx context.Context, id uuid.UUID, token string, markdown string, pdfObjectName string, generatedAt time.Time) error
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (AssemblyRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger:  logger.Default.LogMode(logger.Warn),
			NowFunc: utcNow,
		},
	)
	if err != nil {
		return nil, err
	}
	return NewRepoWithGorm(gormDB), nil
}

func NewRepoWithGorm(db *gorm.DB) AssemblyRepository {
	return &repo{
		db: db,
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

// getDB returns the transaction stored in ctx by Transaction, or the root handle.
func (r *repo) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

// AutoMigrate creates the worker-owned tables. Courses belong to the backend.
func (r *repo) AutoMigrate(ctx context.Context) error {
	return r.getDB(ctx).AutoMigrate(&entities.UploadRecord{}, &entities.LectureAssembly{})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

func (r *repo) FindCourseById(ctx context.Context, id uuid.UUID) (*entities.Course, error) {
	course := &entities.Course{}
	err := r.getDB(ctx).First(course, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}

	return course, nil
}

func (r *repo) FindUploadById(ctx context.Context, id uuid.UUID) (*entities.UploadRecord, error) {
	upload := &entities.UploadRecord{}
	err := r.getDB(ctx).First(upload, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}

	return upload, nil
}

func (r *repo) ListUploadsForLecture(ctx context.Context, courseId uuid.UUID, lecture int) ([]*entities.UploadRecord, error) {
	var uploads []*entities.UploadRecord
	err := r.getDB(ctx).
		Where("course_id = ? AND lecture = ?", courseId, lecture).
		Order("uploaded_at ASC").Order("id ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// UpdateUploadExtraction stores the OCR fragment. Without overwrite an existing
// fragment is kept and false is returned.
func (r *repo) UpdateUploadExtraction(ctx context.Context, id uuid.UUID, enhancedObjectName *string, text string, overwrite bool) (bool, error) {
	query := r.getDB(ctx).Model(&entities.UploadRecord{}).Where("id = ?", id)
	if !overwrite {
		query = query.Where("extracted_text IS NULL")
	}
	updates := map[string]interface{}{
		"extracted_text": text,
	}
	if enhancedObjectName != nil {
		updates["enhanced_object_name"] = *enhancedObjectName
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CreateAssemblyIfAbsent returns the assembly of (courseId, lecture), creating it with
// createdAt when missing. The bool reports whether this call created it.
func (r *repo) CreateAssemblyIfAbsent(ctx context.Context, courseId uuid.UUID, lecture int, createdAt time.Time) (*entities.LectureAssembly, bool, error) {
	createdAt = createdAt.UTC()
	assembly := &entities.LectureAssembly{
		CourseId:  courseId,
		Lecture:   lecture,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	result := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "lecture"}},
		DoNothing: true,
	}).Create(assembly)
	if result.Error != nil {
		return nil, false, result.Error
	}

	existing := &entities.LectureAssembly{}
	err := r.getDB(ctx).First(existing, "course_id = ? AND lecture = ?", courseId, lecture).Error
	if err != nil {
		return nil, false, notFound(err)
	}
	return existing, result.RowsAffected == 1, nil
}

func (r *repo) FindAssemblyById(ctx context.Context, id uuid.UUID) (*entities.LectureAssembly, error) {
	assembly := &entities.LectureAssembly{}
	err := r.getDB(ctx).First(assembly, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}

	return assembly, nil
}

func (r *repo) ListPendingAssembliesByCourse(ctx context.Context, courseId uuid.UUID) ([]*entities.LectureAssembly, error) {
	var assemblies []*entities.LectureAssembly
	err := r.getDB(ctx).
		Where("course_id = ? AND generated = ?", courseId, false).
		Order("lecture ASC").
		Find(&assemblies).Error
	if err != nil {
		return nil, err
	}
	return assemblies, nil
}

// SetAssemblyDueAt never touches generated assemblies; false means the row was
// missing or already generated.
func (r *repo) SetAssemblyDueAt(ctx context.Context, id uuid.UUID, dueAt time.Time) (bool, error) {
	result := r.getDB(ctx).Model(&entities.LectureAssembly{}).
		Where("id = ? AND generated = ?", id, false).
		Update("due_at", dueAt.UTC())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateAggregatedText(ctx context.Context, id uuid.UUID, text string) error {
	return r.getDB(ctx).Model(&entities.LectureAssembly{}).
		Where("id = ?", id).
		Update("aggregated_text", text).Error
}

// FindDueAssemblies lists ungenerated assemblies whose due time has passed and that
// are not held by a live claim, oldest due first.
func (r *repo) FindDueAssemblies(ctx context.Context, now time.Time, limit int) ([]*entities.LectureAssembly, error) {
	now = now.UTC()
	var assemblies []*entities.LectureAssembly
	query := r.getDB(ctx).
		Where("generated = ? AND due_at IS NOT NULL AND due_at <= ?", false, now).
		Where("(claim_token IS NULL OR claim_expires_at IS NULL OR claim_expires_at <= ?)", now).
		Order("due_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&assemblies).Error; err != nil {
		return nil, err
	}
	return assemblies, nil
}

// ClaimAssembly atomically takes the assembly for one sweep worker. It fails when the
// assembly is generated, not yet due, or claimed by someone else whose claim is live.
func (r *repo) ClaimAssembly(ctx context.Context, id uuid.UUID, token string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	result := r.getDB(ctx).Model(&entities.LectureAssembly{}).
		Where("id = ? AND generated = ? AND due_at IS NOT NULL AND due_at <= ?", id, false, now).
		Where("(claim_token IS NULL OR claim_expires_at IS NULL OR claim_expires_at <= ?)", now).
		Updates(map[string]interface{}{
			"claim_token":      token,
			"claim_expires_at": now.Add(ttl),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	return r.getDB(ctx).Model(&entities.LectureAssembly{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"claim_token":      nil,
			"claim_expires_at": nil,
		}).Error
}

// MarkAssemblyGenerated finalizes the assembly only while the caller still holds the claim.
func (r *repo) MarkAssemblyGenerated(ctx context.Context, id uuid.UUID, token string, markdown string, pdfObjectName string, generatedAt time.Time) error {
	result := r.getDB(ctx).Model(&entities.LectureAssembly{}).
		Where("id = ? AND claim_token = ? AND generated = ?", id, token, false).
		Updates(map[string]interface{}{
			"generated":        true,
			"generated_at":     generatedAt.UTC(),
			"markdown":         markdown,
			"pdf_object_name":  pdfObjectName,
			"claim_token":      nil,
			"claim_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}
