package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beam-cloud/synopsis/pkg/persist"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// outputJSON controls whether commands should output JSON instead of styled text
var outputJSON bool

// SetJSONOutput sets the JSON output mode
func SetJSONOutput(enabled bool) {
	outputJSON = enabled
}

// PrintJSON outputs data as JSON if JSON mode is enabled, returns true if it did
func PrintJSON(data interface{}) bool {
	if !outputJSON {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
	return true
}

// PrintSuccess prints a success message with a green checkmark
func PrintSuccess(msg string) {
	fmt.Printf("  %s %s\n", SuccessStyle.Render(SymbolSuccess), msg)
}

// PrintSuccessf prints a formatted success message
func PrintSuccessf(format string, args ...interface{}) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

// PrintErrorMsg prints a simple error message string
func PrintErrorMsg(msg string) {
	fmt.Printf("  %s %s\n", ErrorStyle.Render(SymbolError), ErrorStyle.Render(msg))
}

// PrintWarning prints a warning message with a yellow indicator
func PrintWarning(msg string) {
	fmt.Printf("  %s %s\n", WarningStyle.Render(SymbolWarning), WarningStyle.Render(msg))
}

// PrintInfof prints a formatted info message with an arrow
func PrintInfof(format string, args ...interface{}) {
	fmt.Printf("  %s %s\n", InfoStyle.Render(SymbolInfo), fmt.Sprintf(format, args...))
}

// PrintHint prints a subtle hint/suggestion
func PrintHint(msg string) {
	fmt.Printf("\n  %s\n", HintStyle.Render(msg))
}

// PrintSuggestions prints a list of suggestions
func PrintSuggestions(title string, suggestions []string) {
	fmt.Println()
	fmt.Printf("  %s\n", DimStyle.Render(title))
	for _, s := range suggestions {
		fmt.Printf("    %s %s\n", DimStyle.Render(SymbolBullet), s)
	}
}

// PrintHeader prints a section header
func PrintHeader(title string) {
	fmt.Printf("\n  %s\n\n", BoldStyle.Render(title))
}

// PrintKeyValue prints a key-value pair with consistent alignment
func PrintKeyValue(key, value string) {
	fmt.Printf("  %s %s\n", KeyStyle.Render(key), value)
}

// Table represents a styled table
type Table struct {
	Headers []string
	Rows    [][]string
	Widths  []int
}

// NewTable creates a new table with the given headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		Headers: headers,
		Widths:  widths,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	// Pad or truncate to match header count
	row := make([]string, len(t.Headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
			if len(cells[i]) > t.Widths[i] {
				t.Widths[i] = len(cells[i])
			}
		}
	}
	t.Rows = append(t.Rows, row)
}

// Print renders the table to stdout
func (t *Table) Print() {
	if len(t.Rows) == 0 {
		return
	}

	fmt.Print("  ")
	for i, h := range t.Headers {
		style := TableHeaderStyle.Width(t.Widths[i] + 2)
		fmt.Print(style.Render(h))
	}
	fmt.Println()

	fmt.Print("  ")
	for i := range t.Headers {
		fmt.Print(DimStyle.Render(strings.Repeat("─", t.Widths[i])), "  ")
	}
	fmt.Println()

	for _, row := range t.Rows {
		fmt.Print("  ")
		for i, cell := range row {
			style := TableCellStyle.Width(t.Widths[i] + 2)
			fmt.Print(style.Render(cell))
		}
		fmt.Println()
	}
}

// FormatRelativeTime formats a timestamp as relative time (e.g., "2 hours ago")
func FormatRelativeTime(t time.Time, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		mins := int(duration.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("Jan 2, 2006")
	}
}

// Truncate truncates a string to maxLen, adding "..." if needed
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PrintIngestResult renders the outcome of one ingest call
func PrintIngestResult(result *types.IngestResult) {
	if PrintJSON(result) {
		return
	}

	PrintHeader("Ingest")
	PrintKeyValue("Processed", fmt.Sprint(len(result.Messages)))
	PrintKeyValue("Duplicates", fmt.Sprint(result.Duplicates))
	if len(result.Skipped) > 0 {
		PrintKeyValue("Skipped", fmt.Sprint(len(result.Skipped)))
	}
	if result.Enqueued != nil {
		PrintKeyValue("Queued", fmt.Sprintf("%d accepted, %d rejected", result.Enqueued.Accepted, result.Enqueued.Rejected))
	}
	if result.NextPageToken != "" {
		PrintKeyValue("Next page", CodeStyle.Render(result.NextPageToken))
	}

	if len(result.Messages) > 0 {
		fmt.Println()
		table := NewTable("URGENCY", "SUBJECT", "SUMMARY")
		for _, m := range result.Messages {
			table.AddRow(
				fmt.Sprint(m.Synopsis.UrgencyScore),
				Truncate(m.Message.Subject, 40),
				Truncate(m.Synopsis.Summary, 60),
			)
		}
		table.Print()
	}

	if len(result.ProcessingErrors) > 0 {
		fmt.Println()
		for _, pe := range result.ProcessingErrors {
			PrintWarning(fmt.Sprintf("%s [%s/%s] %s", pe.MessageId, pe.Stage, pe.Kind, Truncate(pe.Error, 80)))
		}
	}

	if info := result.RateLimitInfo; info != nil && info.Exceeded {
		PrintHint(fmt.Sprintf("Quota exhausted, retry after %s", info.RetryAfter))
	}
	fmt.Println()
}

// PrintQueueStats renders a queue snapshot
func PrintQueueStats(stats *types.QueueStats) {
	if PrintJSON(stats) {
		return
	}

	PrintHeader("Queue")
	state := DimStyle.Render("stopped")
	if stats.Running {
		state = SuccessStyle.Render("running")
	}
	PrintKeyValue("Status", state)
	PrintKeyValue("Total", fmt.Sprintf("%d / %d", stats.Total, stats.Capacity))
	PrintKeyValue("Pending", fmt.Sprint(stats.Pending))
	PrintKeyValue("Processing", fmt.Sprint(stats.Processing))
	PrintKeyValue("Waiting", fmt.Sprint(stats.Waiting))
	PrintKeyValue("Avg wait", stats.AverageWait.Round(time.Second).String())
	PrintKeyValue("Completed", fmt.Sprint(stats.Completed))
	PrintKeyValue("Dropped", fmt.Sprint(stats.Dropped))
	PrintKeyValue("Delays", fmt.Sprintf("group %s, item %s", stats.CurrentDelays.Group, stats.CurrentDelays.Item))
	fmt.Println()
}

// PrintSynopses renders stored synopses as a table
func PrintSynopses(list []*persist.StoredSynopsis, now time.Time) {
	if PrintJSON(list) {
		return
	}

	if len(list) == 0 {
		PrintHint("No synopses yet. Run 'synopsis ingest' to analyze your inbox")
		return
	}

	fmt.Println()
	table := NewTable("RECEIVED", "URGENCY", "FROM", "SUBJECT")
	for _, s := range list {
		table.AddRow(
			FormatRelativeTime(s.DateReceived, now),
			string(s.Urgency),
			Truncate(s.Sender, 30),
			Truncate(s.Subject, 50),
		)
	}
	table.Print()
	fmt.Println()
}
