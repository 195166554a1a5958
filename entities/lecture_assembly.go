package entities

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"time"
)

// LectureAssembly aggregates every upload of one lecture into the final PDF.
// Generated implies Markdown and PdfObjectName are set.
type LectureAssembly struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	CourseId       uuid.UUID  `json:"course_id" gorm:"type:uuid;not null;uniqueIndex:idx_lecture_assemblies_course_lecture"`
	Lecture        int        `json:"lecture" gorm:"not null;uniqueIndex:idx_lecture_assemblies_course_lecture"`
	EditedText     *string    `json:"edited_text" gorm:"type:text"`
	AggregatedText string     `json:"aggregated_text" gorm:"type:text;not null;default:''"`
	Markdown       *string    `json:"markdown" gorm:"type:text"`
	PdfObjectName  *string    `json:"pdf_object_name" gorm:"type:varchar(500)"`
	DueAt          *time.Time `json:"due_at" gorm:"index:idx_lecture_assemblies_due"`
	Generated      bool       `json:"generated" gorm:"not null;default:false;index:idx_lecture_assemblies_due"`
	GeneratedAt    *time.Time `json:"generated_at"`
	ClaimToken     *string    `json:"claim_token" gorm:"type:varchar(64)"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null"`
}

func (LectureAssembly) TableName() string {
	return "lecture_assemblies"
}

func (a *LectureAssembly) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
