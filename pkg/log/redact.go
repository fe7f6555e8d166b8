package log

import "strings"

// Redacted replaces the value of any sensitive key.
const Redacted = "[REDACTED]"

var sensitiveKeyParts = []string{"privatekey", "private_key", "secret", "password", "mnemonic", "seed"}

// IsSensitiveKey reports whether values logged under key must be hidden.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// redactKV returns keysAndValues with sensitive values replaced.
// The input slice is copied only when something has to change.
func redactKV(keysAndValues []any) []any {
	var out []any
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok || !IsSensitiveKey(key) {
			continue
		}
		if out == nil {
			out = append([]any(nil), keysAndValues...)
		}
		out[i+1] = Redacted
	}
	if out == nil {
		return keysAndValues
	}
	return out
}
