package constant

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Message routing shared with the backend that publishes upload and course events.
const (
	NotesExchange           = "notes_exchange"
	NotesDeadLetterExchange = "notes_exchange_dlx"

	UploadQueue           = "notes_upload_queue"
	UploadRoutingKey      = "notes.upload.stored"
	UploadDeadLetterQueue = "notes_upload_queue_dlq"
	UploadDeadLetterKey   = "dlq.notes.upload.stored"

	ScheduleQueue           = "notes_schedule_queue"
	ScheduleRoutingKey      = "notes.course.schedule_updated"
	ScheduleDeadLetterQueue = "notes_schedule_queue_dlq"
	ScheduleDeadLetterKey   = "dlq.notes.course.schedule_updated"
)

// Object name prefixes inside the storage bucket.
const (
	ObjectPrefixEnhanced = "enhanced"
	ObjectPrefixFinalPDF = "final_pdfs"
)

const (
	ContentTypePDF = "application/pdf"
	ContentTypePNG = "image/png"
)
