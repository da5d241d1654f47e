package output

import (
	"strings"
)

// MarkdownFormatter renders reports as a markdown table.
type MarkdownFormatter struct{}

// FormatReport renders a store report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *StoreReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Sync store\n\n")
	sb.WriteString(newReportTable(report).RenderMarkdown())
	sb.WriteString("\n")
	return sb.String(), nil
}
