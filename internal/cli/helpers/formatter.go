package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatText  OutputFormat = "text"
)

// Formatter writes a slice of rows.
type Formatter interface {
	Format(data any, writer io.Writer) error
}

// NewFormatter creates a new Formatter for the given format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter formats data as JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// TableFormatter formats a slice of structs as an aligned table. Columns
// are the fields carrying a `header` tag.
type TableFormatter struct {
	// HeaderStyle decorates the header line, e.g. a lipgloss render.
	HeaderStyle func(string) string
}

func (f *TableFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || len(rows) == 0 {
		return err
	}

	w := tabwriter.NewWriter(writer, 0, 0, 3, ' ', 0)
	header := strings.Join(headers, "\t")
	if f.HeaderStyle != nil {
		header = f.HeaderStyle(header)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// CSVFormatter formats a slice of structs as CSV.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || len(rows) == 0 {
		return err
	}

	w := csv.NewWriter(writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func tabulate(data any) ([]string, [][]string, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice")
	}
	if val.Len() == 0 {
		return nil, nil, nil
	}

	headers := getHeaders(val.Index(0).Type())
	rows := make([][]string, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		rows = append(rows, getRowValues(val.Index(i)))
	}
	return headers, rows, nil
}

func getHeaders(t reflect.Type) []string {
	var headers []string
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("header"); tag != "" {
			headers = append(headers, tag)
		}
	}
	return headers
}

func getRowValues(v reflect.Value) []string {
	var values []string
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Tag.Get("header") == "" {
			continue
		}
		values = append(values, formatValue(v.Field(i).Interface()))
	}
	return values
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Duration:
		return FormatDuration(x)
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Local().Format("2006-01-02 15:04:05")
	case bool:
		if x {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprintf("%v", v)
	}
}
