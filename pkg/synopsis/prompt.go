package synopsis

import (
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/synopsis/pkg/types"
)

const promptDateLayout = "Monday, January 2, 2006 at 15:04 MST"

const promptInstructions = `You are an assistant that triages email. Read the email below and reply using exactly these labeled sections, in this order, each on its own line:

Summary: two or three sentences describing what the email is about and what the sender wants.
Urgency Score: a single integer from 0 (can be ignored) to 100 (needs attention right now).
Action: the single next step the recipient should take, or "None".
Classification: one short category such as Work, Personal, Finance, Newsletter, Promotion, Notification or Spam.
Keywords: a comma separated list of up to eight keywords.
ExtractedEntities: a JSON object with the keys "senderName", "date", "snippet", "recipientNames", "subjectTerms" and "attachmentNames". List values are JSON arrays of strings.

Do not add any other text.`

// BuildPrompt renders the single prompt sent for a message. The body is cut
// at maxBodyChars runes when that limit is positive.
func BuildPrompt(msg *types.NormalizedMessage, maxBodyChars int) string {
	var sb strings.Builder
	sb.WriteString(promptInstructions)
	sb.WriteString("\n\n--- EMAIL ---\n")

	fmt.Fprintf(&sb, "From: %s\n", valueOr(msg.Sender, "Unknown sender"))
	fmt.Fprintf(&sb, "To: %s\n", valueOr(strings.Join(msg.Recipients, ", "), "Unknown recipients"))
	fmt.Fprintf(&sb, "Date: %s\n", formatDate(msg.DateReceived))
	fmt.Fprintf(&sb, "Subject: %s\n", valueOr(msg.Subject, "(no subject)"))

	if msg.HasUnsubscribe() {
		sb.WriteString("Unsubscribe link: present (likely a mailing list or marketing email)\n")
	} else {
		sb.WriteString("Unsubscribe link: none\n")
	}

	if len(msg.AttachmentNames) > 0 {
		fmt.Fprintf(&sb, "Attachments: %s\n", strings.Join(msg.AttachmentNames, ", "))
	} else {
		sb.WriteString("Attachments: none\n")
	}

	sb.WriteString("\nBody:\n")
	sb.WriteString(truncateRunes(msg.Body, maxBodyChars))
	sb.WriteString("\n--- END EMAIL ---\n")

	return sb.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown date"
	}
	return t.UTC().Format(promptDateLayout)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
