package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/clawpulse/syncrelay/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// StoreReport describes the payload store for operators.
type StoreReport struct {
	Driver      string      `json:"driver"`
	TTL         string      `json:"ttl"`
	GeneratedAt time.Time   `json:"generated_at"`
	Stats       store.Stats `json:"stats"`
}

// Formatter renders store reports.
type Formatter interface {
	FormatReport(report *StoreReport) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func reportRows(report *StoreReport) [][2]string {
	return [][2]string{
		{"Driver", report.Driver},
		{"TTL", report.TTL},
		{"Records", fmt.Sprintf("%d", report.Stats.Records)},
		{"Payload bytes", fmt.Sprintf("%d", report.Stats.PayloadBytes)},
		{"Expired (pending sweep)", fmt.Sprintf("%d", report.Stats.ExpiredPending)},
		{"Oldest update", formatTime(report.Stats.OldestUpdate)},
		{"Newest update", formatTime(report.Stats.NewestUpdate)},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
