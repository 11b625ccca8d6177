package redact

import (
	"encoding/json"
	"strings"

	"reqlens/internal/domain"
)

const mask = "***"

var sensitiveKeys = []string{"authorization", "cookie", "set-cookie", "access_token", "id_token", "session", "apikey", "x-api-key"}

// Headers returns a copy of hs with sensitive header values masked.
// Order and casing are kept; only values change.
func Headers(hs []domain.Header) []domain.Header {
	out := make([]domain.Header, len(hs))
	for i, h := range hs {
		out[i] = h
		if isSensitiveKey(h.Name) {
			out[i].Value = mask
		}
	}
	return out
}

// JSON masks sensitive fields in a JSON string best-effort. Input that
// does not parse is returned untouched.
func JSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	redactNode(&v)
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}

func redactNode(n *any) {
	switch t := (*n).(type) {
	case map[string]any:
		for k, v := range t {
			if isSensitiveKey(k) {
				t[k] = mask
				continue
			}
			vv := any(v)
			redactNode(&vv)
			t[k] = vv
		}
	case []any:
		for i := range t {
			vv := any(t[i])
			redactNode(&vv)
			t[i] = vv
		}
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	if strings.Contains(k, "token") || strings.Contains(k, "secret") {
		return true
	}
	for _, s := range sensitiveKeys {
		if k == s {
			return true
		}
	}
	return false
}
