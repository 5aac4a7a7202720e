package types

// Stage names where a message left the pipeline without a synopsis
const (
	StageFetch    = "fetch"
	StageDedup    = "dedup"
	StageSynopsis = "synopsis"
)

// ProcessingError accounts for one message that produced no synopsis
type ProcessingError struct {
	MessageId string    `json:"messageId"`
	Stage     string    `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Error     string    `json:"error"`
}

// IngestResult is the aggregated outcome of one ingest call
type IngestResult struct {
	Messages         []ProcessedMessage `json:"messages"`
	NextPageToken    string             `json:"nextPageToken,omitempty"`
	ProcessingErrors []ProcessingError  `json:"processingErrors,omitempty"`
	Skipped          []string           `json:"skipped,omitempty"` // too large or unparseable
	Duplicates       int                `json:"duplicates"`
	Enqueued         *EnqueueResult     `json:"enqueued,omitempty"`
	RateLimitInfo    *QuotaInfo         `json:"rateLimitInfo,omitempty"`
	QueueStats       *QueueStats        `json:"queueStats,omitempty"`
}
