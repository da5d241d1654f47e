package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders reports as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a store report as a table.
func (f *TableFormatter) FormatReport(report *StoreReport) (string, error) {
	if report == nil {
		return "", nil
	}
	t := newReportTable(report)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

func newReportTable(report *StoreReport) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	for _, row := range reportRows(report) {
		t.AppendRow(table.Row{row[0], row[1]})
	}
	return t
}
