package history

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Redacted replaces the value of every sensitive field in a snapshot.
const Redacted = "[REDACTED]"

// sensitiveFragments match field names case-insensitively.
var sensitiveFragments = []string{"password", "secret", "token", "apikey", "invitecode", "authorization"}

func isSensitive(key string) bool {
	k := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	for _, f := range sensitiveFragments {
		if strings.Contains(k, f) {
			return true
		}
	}
	return false
}

// redact masks sensitive fields at any depth of a JSON object or array.
// Anything else, including malformed JSON, is returned unchanged.
func redact(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	if !redactValue(v) {
		return s
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return Redacted
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func redactValue(v any) bool {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isSensitive(k) {
				t[k] = Redacted
				changed = true
				continue
			}
			if redactValue(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range t {
			if redactValue(child) {
				changed = true
			}
		}
	}
	return changed
}
