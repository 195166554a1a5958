package entities

import "github.com/google/uuid"

// Course is owned by the backend; the worker only reads the scheduling columns.
type Course struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Slug      string    `json:"slug" gorm:"type:varchar(50);not null"`
	ClassTime *string   `json:"class_time" gorm:"type:varchar(8)"`
	TimeZone  *string   `json:"time_zone" gorm:"type:varchar(64)"`
}

func (Course) TableName() string {
	return "courses"
}
