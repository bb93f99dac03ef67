package security

import "strings"

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeyParts redact any key containing them.
var sensitiveKeyParts = []string{"password", "token", "key", "secret"}

// contentKeys redact exact (case-insensitive) key matches.
var contentKeys = map[string]bool{
	"body":    true,
	"message": true,
	"content": true,
	"text":    true,
	"data":    true,
	"payload": true,
}

// SanitizeForLogging returns a copy of v that is safe to log. Top-level
// strings are redacted entirely; objects keep their non-sensitive scalar
// fields (ids, timestamps) so a rejected message can still be traced.
func SanitizeForLogging(v any) any {
	switch val := v.(type) {
	case string:
		return Redacted
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeForLogging(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			switch {
			case isSensitiveKey(k):
				out[k] = Redacted
			case isContainer(item):
				out[k] = SanitizeForLogging(item)
			default:
				out[k] = item
			}
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if contentKeys[lower] {
		return true
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
