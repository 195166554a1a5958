package entities

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"time"
)

type UploadRecord struct {
	ID                 uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserId             uuid.UUID `json:"user_id" gorm:"type:uuid;not null"`
	Contributor        *string   `json:"contributor" gorm:"type:varchar(150)"`
	CourseId           uuid.UUID `json:"course_id" gorm:"type:uuid;not null;index:idx_upload_records_course_lecture"`
	Lecture            int       `json:"lecture" gorm:"not null;index:idx_upload_records_course_lecture"`
	ImageObjectName    string    `json:"image_object_name" gorm:"type:varchar(500);not null"`
	EnhancedObjectName *string   `json:"enhanced_object_name" gorm:"type:varchar(500)"`
	ExtractedText      *string   `json:"extracted_text" gorm:"type:text"`
	UploadedAt         time.Time `json:"uploaded_at" gorm:"not null;autoCreateTime"`
}

func (UploadRecord) TableName() string {
	return "upload_records"
}

func (u *UploadRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
