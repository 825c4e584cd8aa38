package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxSnapshotBytes caps each persisted snapshot.
const MaxSnapshotBytes = 16 << 10

const redacted = "[REDACTED]"

type redaction struct {
	pattern *regexp.Regexp
	replace string
}

// Key-preserving patterns, so redacted JSON stays valid.
var redactions = []redaction{
	// "password": "..." and similar JSON members.
	{regexp.MustCompile(`(?i)("[^"]*(?:password|passwd|pwd|secret|token|api[_-]?key|authorization|credential)[^"]*"\s*:\s*)"(?:[^"\\]|\\.)*"`), `${1}"` + redacted + `"`},
	{regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]+`), `${1}` + redacted},
	{regexp.MustCompile(`(?i)\b((?:password|passwd|pwd|secret|token|api[_-]?key)\s*=\s*)[^\s&"',;]+`), `${1}` + redacted},
	// Credentials embedded in URLs and DSNs.
	{regexp.MustCompile(`(://[^:/@\s"]+:)[^@\s"]+(@)`), `${1}` + redacted + `${2}`},
	{regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`), redacted},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
}

// Redact masks secrets in s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}

// snapshot encodes v as redacted JSON of at most MaxSnapshotBytes.
// Oversized or unencodable values are stored as a truncated JSON string.
func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	text := Redact(string(data))
	if len(text) <= MaxSnapshotBytes && json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	wrapped, _ := json.Marshal(truncate(text, MaxSnapshotBytes-64))
	return wrapped
}

// errorSnapshot redacts and truncates an error message.
func errorSnapshot(err error) string {
	if err == nil {
		return ""
	}
	return truncate(Redact(err.Error()), MaxSnapshotBytes)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "...[truncated]"
	cut := limit - len(marker)
	// Never split a multi-byte rune; text columns reject invalid UTF-8.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
