package sinks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-dynsync/core"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CleanValue normalizes one field value: timestamps collapse to YYYY-MM-DD
// and embedded JSON strings are parsed into structured values. Anything
// else passes through untouched.
func CleanValue(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return value
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return value
}

func cleanRecord(record core.Record) core.Record {
	cleaned := record.Clone()
	for key, value := range cleaned.Data {
		cleaned.Data[key] = CleanValue(value)
	}
	return cleaned
}
