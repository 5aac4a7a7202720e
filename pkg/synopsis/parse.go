package synopsis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/hjson/hjson-go/v4"

	"github.com/beam-cloud/synopsis/pkg/types"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNoSummary     = errors.New("response has no summary section")
)

const (
	labelSummary        = "summary"
	labelUrgency        = "urgencyscore"
	labelAction         = "action"
	labelClassification = "classification"
	labelKeywords       = "keywords"
	labelEntities       = "extractedentities"
)

var (
	labelPattern  = regexp.MustCompile(`(?im)^[ \t>*#_-]*(summary|urgency[ _]?score|action|classification|keywords|extracted[ _]?entities)[ \t*_]*:[ \t*_]*`)
	digitsPattern = regexp.MustCompile(`\d{1,3}`)

	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	singleQuoteKey       = regexp.MustCompile(`'([^'\n]*)'\s*:`)
	singleQuoteValue     = regexp.MustCompile(`:\s*'([^'\n]*)'`)
	badEscapePattern     = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "″", `"`,
		"‘", "'", "’", "'",
	)
)

// ParseResponse extracts the labeled sections of a model response. Only the
// summary is required; every other field degrades to its zero value.
func ParseResponse(raw string) (*types.SynopsisResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}

	sections := splitSections(raw)
	summary := collapseSpace(sections[labelSummary])
	if summary == "" {
		return nil, ErrNoSummary
	}

	return &types.SynopsisResult{
		Summary:           summary,
		UrgencyScore:      parseUrgency(sections[labelUrgency]),
		Action:            collapseSpace(sections[labelAction]),
		Classification:    firstLine(sections[labelClassification]),
		Keywords:          parseList(sections[labelKeywords]),
		ExtractedEntities: parseEntities(sections[labelEntities]),
	}, nil
}

// splitSections maps each label to the text between it and the next label.
// The first occurrence of a label wins.
func splitSections(raw string) map[string]string {
	sections := make(map[string]string)
	matches := labelPattern.FindAllStringSubmatchIndex(raw, -1)

	for i, m := range matches {
		label := normalizeLabel(raw[m[2]:m[3]])
		if _, seen := sections[label]; seen {
			continue
		}
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[label] = strings.TrimSpace(raw[m[1]:end])
	}
	return sections
}

func normalizeLabel(label string) string {
	label = strings.ToLower(label)
	label = strings.ReplaceAll(label, " ", "")
	return strings.ReplaceAll(label, "_", "")
}

func parseUrgency(section string) int {
	match := digitsPattern.FindString(section)
	if match == "" {
		return 0
	}
	score, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return min(max(score, 0), 100)
}

func parseList(section string) []string {
	section = strings.TrimSpace(stripCodeFence(section))
	if strings.HasPrefix(section, "[") {
		var list []string
		if err := json.Unmarshal([]byte(section), &list); err == nil {
			return cleanList(list)
		}
		section = strings.Trim(section, "[]")
	}
	return cleanList(strings.FieldsFunc(section, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	}))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), "-*•\"'` ")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstLine(section string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(section), "\n")
	return strings.Trim(strings.TrimSpace(line), "*\"'`")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseEntities tries strict JSON, then JSON after cleanup, then hjson,
// then field by field extraction.
func parseEntities(section string) *types.ExtractedEntities {
	raw := strings.TrimSpace(stripCodeFence(section))
	if raw == "" {
		return nil
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err == nil {
		return entitiesFromMap(fields)
	}

	cleaned := cleanupJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), &fields); err == nil {
		return entitiesFromMap(fields)
	}

	if err := hjson.Unmarshal([]byte(cleaned), &fields); err == nil {
		if e := entitiesFromMap(fields); e != nil {
			return e
		}
	}

	return entitiesByField(cleaned)
}

func stripCodeFence(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func cleanupJSON(s string) string {
	s = smartQuotes.Replace(s)
	s = singleQuoteKey.ReplaceAllString(s, `"$1":`)
	s = singleQuoteValue.ReplaceAllString(s, `: "$1"`)
	s = badEscapePattern.ReplaceAllString(s, `\\$1`)
	s = escapeNewlinesInStrings(s)
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// escapeNewlinesInStrings replaces raw control characters inside string literals
func escapeNewlinesInStrings(s string) string {
	var sb strings.Builder
	inString := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString && r == '\n':
			sb.WriteString(`\n`)
			continue
		case inString && r == '\r':
			continue
		case inString && r == '\t':
			sb.WriteString(`\t`)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func entitiesFromMap(fields map[string]any) *types.ExtractedEntities {
	e := &types.ExtractedEntities{
		RecipientNames:  []string{},
		SubjectTerms:    []string{},
		AttachmentNames: []string{},
	}
	found := false
	for key, value := range fields {
		switch normalizeLabel(key) {
		case "sendername":
			e.SenderName, found = toString(value), true
		case "date":
			e.Date, found = toString(value), true
		case "snippet":
			e.Snippet, found = toString(value), true
		case "recipientnames":
			e.RecipientNames, found = toList(value), true
		case "subjectterms":
			e.SubjectTerms, found = toList(value), true
		case "attachmentnames":
			e.AttachmentNames, found = toList(value), true
		}
	}
	if !found {
		return nil
	}
	return e
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func toList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return parseList(t)
	default:
		return []string{toString(t)}
	}
}

var (
	entityStringFields = map[string]*regexp.Regexp{
		"senderName": regexp.MustCompile(`(?i)"?sender_?name"?\s*:\s*"([^"]*)"`),
		"date":       regexp.MustCompile(`(?i)"?date"?\s*:\s*"([^"]*)"`),
		"snippet":    regexp.MustCompile(`(?i)"?snippet"?\s*:\s*"([^"]*)"`),
	}
	entityListFields = map[string]*regexp.Regexp{
		"recipientNames":  regexp.MustCompile(`(?i)"?recipient_?names"?\s*:\s*\[([^\]]*)\]`),
		"subjectTerms":    regexp.MustCompile(`(?i)"?subject_?terms"?\s*:\s*\[([^\]]*)\]`),
		"attachmentNames": regexp.MustCompile(`(?i)"?attachment_?names"?\s*:\s*\[([^\]]*)\]`),
	}
)

func entitiesByField(s string) *types.ExtractedEntities {
	fields := make(map[string]any)
	for key, re := range entityStringFields {
		if m := re.FindStringSubmatch(s); m != nil {
			fields[key] = m[1]
		}
	}
	for key, re := range entityListFields {
		if m := re.FindStringSubmatch(s); m != nil {
			fields[key] = m[1]
		}
	}
	return entitiesFromMap(fields)
}
