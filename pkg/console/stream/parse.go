package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"analytics-console/pkg/console"
)

type structuredReply struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ParseStructured decodes a buffered relational or document reply.
// The reply is {"role": ..., "content": ...} where content is either a chart
// record (inline or JSON-encoded in a string) or free-form text. On failure the
// raw payload comes back as plain text together with an ErrParse.
func ParseStructured(raw []byte) (console.Content, error) {
	trimmed := bytes.TrimSpace(raw)

	var reply structuredReply
	if err := json.Unmarshal(trimmed, &reply); err != nil {
		return console.TextContent(string(raw)), fmt.Errorf("%w: %v", console.ErrParse, err)
	}

	if len(reply.Content) == 0 || string(reply.Content) == "null" {
		// A bare chart record without the role envelope is accepted too
		if chart, ok := decodeChart(trimmed); ok {
			return console.ChartContent(chart), nil
		}
		return console.TextContent(string(raw)), fmt.Errorf("%w: reply has no content", console.ErrParse)
	}

	return contentFromField(reply.Content), nil
}

func contentFromField(field json.RawMessage) console.Content {
	var text string
	if err := json.Unmarshal(field, &text); err == nil {
		if chart, ok := decodeChart([]byte(text)); ok {
			return console.ChartContent(chart)
		}
		return console.RecordContent(text)
	}

	if chart, ok := decodeChart(field); ok {
		return console.ChartContent(chart)
	}
	return console.RecordContent(string(field))
}

func decodeChart(data []byte) (*console.ChartRecord, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var chart console.ChartRecord
	if err := json.Unmarshal(trimmed, &chart); err != nil || !chart.Valid() {
		return nil, false
	}
	return &chart, true
}
