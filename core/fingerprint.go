package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint returns a deterministic digest of a record's full field
// content. Key order is irrelevant; any value difference changes the digest.
func Fingerprint(record Record) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(record.Stream))
	builder.WriteString("|")
	writeCanonical(&builder, record.Data)
	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(builder *strings.Builder, value any) {
	switch typed := value.(type) {
	case nil:
		builder.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		builder.WriteString("{")
		for i, key := range keys {
			if i > 0 {
				builder.WriteString(",")
			}
			builder.WriteString(strconv.Quote(key))
			builder.WriteString(":")
			writeCanonical(builder, typed[key])
		}
		builder.WriteString("}")
	case []map[string]any:
		builder.WriteString("[")
		for i, item := range typed {
			if i > 0 {
				builder.WriteString(",")
			}
			writeCanonical(builder, item)
		}
		builder.WriteString("]")
	case []any:
		builder.WriteString("[")
		for i, item := range typed {
			if i > 0 {
				builder.WriteString(",")
			}
			writeCanonical(builder, item)
		}
		builder.WriteString("]")
	case string:
		builder.WriteString(strconv.Quote(typed))
	case bool:
		builder.WriteString(strconv.FormatBool(typed))
	case float64:
		builder.WriteString(strconv.FormatFloat(typed, 'g', -1, 64))
	case float32:
		builder.WriteString(strconv.FormatFloat(float64(typed), 'g', -1, 64))
	case int:
		builder.WriteString(strconv.Itoa(typed))
	case int64:
		builder.WriteString(strconv.FormatInt(typed, 10))
	default:
		builder.WriteString(strconv.Quote(fmt.Sprint(typed)))
	}
}
