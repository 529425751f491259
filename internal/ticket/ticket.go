// Package ticket builds and delivers finalized support submissions.
package ticket

// AttachmentRef points at a platform-hosted file that can be re-sent by
// reference or fetched for email delivery.
type AttachmentRef struct {
	FileID   string
	FileName string
	Kind     Kind
}

// Kind is the platform media type of an attachment.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
)

// Submission is one finalized support request, built either from a single
// inbound message or from a flushed media group. It lives only for the
// duration of one dispatch.
type Submission struct {
	RequesterID   int64
	RequesterName string
	Email         string
	Topic         string
	Body          string
	Attachments   []AttachmentRef
}
