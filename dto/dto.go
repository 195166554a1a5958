package dto

import "github.com/google/uuid"

// UploadStoredMessage is published by the backend once the raw page image is in the bucket.
type UploadStoredMessage struct {
	UploadId  uuid.UUID `json:"uploadId" validate:"required"`
	Reprocess bool      `json:"reprocess"`
}

// ScheduleUpdatedMessage is published whenever a course's class time or time zone changes.
type ScheduleUpdatedMessage struct {
	CourseId uuid.UUID `json:"courseId" validate:"required"`
}
