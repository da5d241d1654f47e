package output

import (
	"encoding/json"
)

// JSONFormatter renders reports as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatReport renders a store report as JSON.
func (f *JSONFormatter) FormatReport(report *StoreReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(report, "", "  ")
	} else {
		data, err = json.Marshal(report)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
