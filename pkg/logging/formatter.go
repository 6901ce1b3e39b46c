package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// TextFormatter renders entries as human-readable text.
type TextFormatter struct {
	// TimestampFormat overrides the timestamp layout.
	TimestampFormat string
	// DisableTimestamp drops the timestamp column.
	DisableTimestamp bool
}

// NewTextFormatter creates a text formatter with the default layout.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: "2006-01-02 15:04:05.000"}
}

// Format renders one entry.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}
	fmt.Fprintf(&buf, "[%s] %s", entry.Level, entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Fields[k])
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// JSONFormatter renders entries as one JSON object per line.
type JSONFormatter struct {
	// TimestampField overrides the timestamp key, default "ts".
	TimestampField string
}

// NewJSONFormatter creates a JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{TimestampField: "ts"}
}

// Format renders one entry.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := make(map[string]any, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		obj[k] = v
	}
	obj[f.TimestampField] = entry.Timestamp
	obj["level"] = entry.Level.String()
	obj["msg"] = entry.Message

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
