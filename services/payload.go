package services

import (
	"encoding/json"
	"strings"
)

// ExtractPayload pulls a string out of a JSON object returned by the model.
// The first known key holding a non-empty string wins; otherwise the first
// non-empty string value in document order is used. A top-level JSON string
// is accepted as is.
func ExtractPayload(raw string, knownKeys ...string) (string, error) {
	raw = StripCodeFences(raw)
	if raw == "" {
		return "", ErrNoPayload
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		var s string
		if json.Unmarshal([]byte(raw), &s) == nil && strings.TrimSpace(s) != "" {
			return s, nil
		}
		return "", ErrNoPayload
	}

	for _, key := range knownKeys {
		if v, ok := obj[key]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) != "" {
				return s, nil
			}
		}
	}

	if s, ok := firstStringValue(raw); ok {
		return s, nil
	}
	return "", ErrNoPayload
}

// firstStringValue walks the top-level object in order, since Go maps do not
// keep key order.
func firstStringValue(raw string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", false
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return "", false
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return "", false
		}
		var s string
		if json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// StripCodeFences removes a surrounding ``` fence, with or without a
// language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
