package logging

import "strings"

// sensitiveKeys lists field-name substrings (case-insensitive) whose values
// are never allowed to leave the device: password, token, api_key, secret,
// private_key, preshared_key (spec.md §4.2), plus the spellings of the last
// three without an underscore.
var sensitiveKeys = []string{
	"password",
	"token",
	"api_key",
	"apikey",
	"secret",
	"private_key",
	"privatekey",
	"preshared_key",
	"presharedkey",
}

// RedactionSentinel replaces the value of any field whose key matches a
// sensitive-key pattern.
const RedactionSentinel = "[REDACTED]"

// isSensitiveKey reports whether key should be redacted, matching
// case-insensitively and as a substring so "mqtt_password" and
// "device_api_key" are both caught.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactFields returns a copy of fields with sensitive values replaced by
// RedactionSentinel. The input map is never mutated so the local sink
// (which runs before this filter, per §4.2 — "sampled-out records still go
// to local") can still see the unredacted original when that is desired by
// a caller; in practice edged applies redaction before both sinks so the
// original is never retained anywhere, see redactHook.Fire.
func RedactFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = RedactionSentinel
			continue
		}
		out[k] = v
	}
	return out
}
