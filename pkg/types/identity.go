package types

import "time"

// Identity is the authenticated caller plus the token used to read their mailbox
type Identity struct {
	Id           string `json:"id"`
	Email        string `json:"email"`
	MailboxToken string `json:"-"`
}

// EncryptedField is one independently encrypted value
type EncryptedField struct {
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"auth_tag"`
	Nonce      string `json:"nonce"`
}

// SynopsisRecord is the persisted, encrypted form of a synopsis.
// Absent values are stored as nil so every record has the same keys.
type SynopsisRecord struct {
	Id             string                     `json:"id"`
	MessageId      string                     `json:"message_id"`
	OwnerId        string                     `json:"owner_id"`
	ThreadId       string                     `json:"thread_id,omitempty"`
	SourceURL      string                     `json:"source_url"`
	DateReceived   time.Time                  `json:"date_received"`
	HasUnsubscribe bool                       `json:"has_unsubscribe"`
	Fields         map[string]*EncryptedField `json:"fields"`
	CreatedAt      time.Time                  `json:"created_at"`
}
