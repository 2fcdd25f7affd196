package logging

import "github.com/sirupsen/logrus"

// redactHook mutates every log entry's fields in place before it reaches any
// sink (local formatter or the remote ring), so the redaction invariant
// holds regardless of which sink eventually receives the record.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(e *logrus.Entry) error {
	for k, v := range e.Data {
		if isSensitiveKey(k) {
			e.Data[k] = RedactionSentinel
			continue
		}
		if s, ok := v.(string); ok && containsSensitiveValue(s) {
			e.Data[k] = RedactionSentinel
		}
	}
	e.Message = scrubMessage(e.Message)
	return nil
}

// containsSensitiveValue is a best-effort guard against a caller
// accidentally formatting a secret into a field's string value instead of
// naming it with a sensitive key (e.g. a field called "detail" whose value
// happens to start with a provisioning secret prefix). It is intentionally
// narrow — it only recognizes the well-known "sk_live_" / "sk_test_"
// provisioning-secret prefix used by the cloud control plane — so it does
// not mangle unrelated log text.
func containsSensitiveValue(s string) bool {
	return len(s) > 8 && (hasPrefix(s, "sk_live_") || hasPrefix(s, "sk_test_"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// scrubMessage redacts a provisioning-secret-looking token that leaked into
// a formatted message string rather than a structured field.
func scrubMessage(msg string) string {
	return redactTokenPrefixes(msg, "sk_live_", "sk_test_")
}

func redactTokenPrefixes(s string, prefixes ...string) string {
	for _, p := range prefixes {
		for {
			idx := indexOf(s, p)
			if idx < 0 {
				break
			}
			end := idx + len(p)
			for end < len(s) && isTokenChar(s[end]) {
				end++
			}
			s = s[:idx] + RedactionSentinel + s[end:]
		}
	}
	return s
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func isTokenChar(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
