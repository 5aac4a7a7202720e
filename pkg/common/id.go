package common

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix.
// Format: prefix-uuid
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// GenerateRecordID generates the id of a persisted synopsis record.
func GenerateRecordID() string {
	return GenerateID("syn")
}

// GenerateRequestID generates the id attached to one ingest call.
func GenerateRequestID() string {
	return GenerateID("req")
}
