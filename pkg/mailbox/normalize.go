package mailbox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog/log"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/beam-cloud/synopsis/pkg/types"
)

const webMessageURL = "https://mail.google.com/mail/u/0/#inbox/%s"

var ErrMalformedMessage = errors.New("malformed message")

var wordDecoder = &mime.WordDecoder{CharsetReader: message.CharsetReader}

var dateFormats = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// bodyParts collects what the part walk finds
type bodyParts struct {
	plain       string
	html        string
	attachments []string
}

// Normalize reduces a full-format Gmail message to a NormalizedMessage.
// A malformed MIME part is skipped without failing the message.
func Normalize(raw *gmail.Message) (*types.NormalizedMessage, error) {
	if raw == nil || raw.Id == "" {
		return nil, ErrMalformedMessage
	}

	msg := &types.NormalizedMessage{
		Id:        raw.Id,
		ThreadId:  raw.ThreadId,
		Snippet:   html.UnescapeString(raw.Snippet),
		Labels:    raw.LabelIds,
		SourceURL: fmt.Sprintf(webMessageURL, raw.Id),
	}

	var headers []*gmail.MessagePartHeader
	if raw.Payload != nil {
		headers = raw.Payload.Headers
	}

	msg.Subject = decodeHeader(headerValue(headers, "Subject"))
	if senders := parseAddresses(headerValue(headers, "From")); len(senders) > 0 {
		msg.Sender = senders[0]
	}
	msg.Recipients = append(parseAddresses(headerValue(headers, "To")), parseAddresses(headerValue(headers, "Cc"))...)
	msg.DateReceived = messageDate(raw, headerValue(headers, "Date"))

	parts := &bodyParts{}
	if raw.Payload != nil {
		walkPart(raw.Payload, parts, 0)
	}
	msg.AttachmentNames = parts.attachments
	if msg.AttachmentNames == nil {
		msg.AttachmentNames = []string{}
	}
	if msg.Recipients == nil {
		msg.Recipients = []string{}
	}

	var anchors []anchor
	switch {
	case strings.TrimSpace(parts.plain) != "":
		msg.Body = cleanText(parts.plain)
		if parts.html != "" {
			_, anchors = htmlToText(parts.html)
		}
	case parts.html != "":
		msg.Body, anchors = htmlToText(parts.html)
	}
	if msg.Body == "" {
		msg.Body = msg.Snippet
	}

	msg.UnsubscribeLink = unsubscribeFromHeader(headerValue(headers, "List-Unsubscribe"))
	if msg.UnsubscribeLink == "" {
		msg.UnsubscribeLink = unsubscribeFromAnchors(anchors)
	}

	return msg, nil
}

const maxPartDepth = 32

// walkPart visits the MIME tree depth first. A panic while handling one part
// is recovered so its siblings are still read.
func walkPart(part *gmail.MessagePart, out *bodyParts, depth int) {
	if part == nil || depth > maxPartDepth {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("part_id", part.PartId).Msg("skipping malformed mime part")
		}
	}()

	mimeType := strings.ToLower(part.MimeType)
	if name := partFilename(part); name != "" {
		out.attachments = append(out.attachments, name)
	} else if part.Body != nil && part.Body.Data != "" {
		switch {
		case strings.HasPrefix(mimeType, "text/plain") && out.plain == "":
			out.plain = decodeBodyData(part.Body.Data)
		case strings.HasPrefix(mimeType, "text/html") && out.html == "":
			out.html = decodeBodyData(part.Body.Data)
		}
	}

	for _, child := range part.Parts {
		walkPart(child, out, depth+1)
	}
}

func partFilename(part *gmail.MessagePart) string {
	if part.Filename != "" {
		return decodeHeader(part.Filename)
	}
	disposition := headerValue(part.Headers, "Content-Disposition")
	if disposition == "" {
		return ""
	}
	kind, params, err := mime.ParseMediaType(disposition)
	if err != nil || kind != "attachment" {
		return ""
	}
	return decodeHeader(params["filename"])
}

// decodeBodyData decodes Gmail's base64url body data, tolerating padding variants
func decodeBodyData(data string) string {
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	return ""
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// parseAddresses parses an RFC 5322 address list into "Name <addr>" strings.
// Unparseable lists fall back to a comma split.
func parseAddresses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, decodeHeader(part))
			}
		}
		return out
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			out = append(out, a.Address)
		}
	}
	return out
}

func messageDate(raw *gmail.Message, header string) time.Time {
	if raw.InternalDate > 0 {
		return time.UnixMilli(raw.InternalDate).UTC()
	}
	header = strings.TrimSpace(header)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, header); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// unsubscribeFromHeader picks the first http(s) URI in a List-Unsubscribe
// header, falling back to a mailto URI
func unsubscribeFromHeader(value string) string {
	var mailto string
	for _, item := range strings.Split(value, ",") {
		uri := strings.Trim(strings.TrimSpace(item), "<>")
		lower := strings.ToLower(uri)
		switch {
		case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
			return uri
		case strings.HasPrefix(lower, "mailto:") && mailto == "":
			mailto = uri
		}
	}
	return mailto
}

func unsubscribeFromAnchors(anchors []anchor) string {
	for _, a := range anchors {
		href := strings.ToLower(a.Href)
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			continue
		}
		text := strings.ToLower(a.Text)
		if strings.Contains(text, "unsubscribe") || strings.Contains(text, "opt out") ||
			strings.Contains(href, "unsubscribe") {
			return a.Href
		}
	}
	return ""
}
