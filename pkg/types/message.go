package types

import "time"

// NormalizedMessage is a mailbox message reduced to what the synopsis prompt needs.
// It is not modified after the fetcher produces it.
type NormalizedMessage struct {
	Id              string    `json:"id"`
	ThreadId        string    `json:"thread_id,omitempty"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	Snippet         string    `json:"snippet,omitempty"`
	Sender          string    `json:"sender"`
	Recipients      []string  `json:"recipients"`
	DateReceived    time.Time `json:"date_received"`
	UnsubscribeLink string    `json:"unsubscribe_link,omitempty"`
	AttachmentNames []string  `json:"attachment_names"`
	SourceURL       string    `json:"source_url"`
	Labels          []string  `json:"labels,omitempty"`
}

// HasUnsubscribe returns true if an unsubscribe link was detected
func (m *NormalizedMessage) HasUnsubscribe() bool {
	return m.UnsubscribeLink != ""
}

// ExtractedEntities are the named entities the model pulled out of a message
type ExtractedEntities struct {
	SenderName      string   `json:"senderName"`
	Date            string   `json:"date"`
	Snippet         string   `json:"snippet"`
	RecipientNames  []string `json:"recipientNames"`
	SubjectTerms    []string `json:"subjectTerms"`
	AttachmentNames []string `json:"attachmentNames"`
}

// SynopsisResult is the structured summary of one message
type SynopsisResult struct {
	Summary           string             `json:"summary"`
	UrgencyScore      int                `json:"urgency_score"`
	Action            string             `json:"action"`
	Classification    string             `json:"classification"`
	Keywords          []string           `json:"keywords"`
	ExtractedEntities *ExtractedEntities `json:"extracted_entities,omitempty"`
}

// UrgencyBucket groups urgency scores for display and filtering
type UrgencyBucket string

const (
	UrgencyUrgent      UrgencyBucket = "urgent"
	UrgencyImportant   UrgencyBucket = "important"
	UrgencyCanWait     UrgencyBucket = "can_wait"
	UrgencyUnimportant UrgencyBucket = "unimportant"
)

// Bucket maps the urgency score onto its bucket
func (s *SynopsisResult) Bucket() UrgencyBucket {
	switch {
	case s.UrgencyScore >= 75:
		return UrgencyUrgent
	case s.UrgencyScore >= 50:
		return UrgencyImportant
	case s.UrgencyScore >= 25:
		return UrgencyCanWait
	default:
		return UrgencyUnimportant
	}
}

// WorkItem is a message plus the owner its synopsis is persisted for
type WorkItem struct {
	OwnerId string             `json:"owner_id"`
	Message *NormalizedMessage `json:"message"`
}

// ProcessedMessage pairs a message with its synopsis
type ProcessedMessage struct {
	Message  *NormalizedMessage `json:"message"`
	Synopsis *SynopsisResult    `json:"synopsis"`
}
