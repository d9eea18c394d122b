package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// StripFence removes a surrounding Markdown code fence.
func StripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// DecodeObject parses raw as a JSON object.
func DecodeObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// LookupString returns the first alias present with a non-empty value.
// Keys match case-insensitively.
func LookupString(obj map[string]any, aliases []string) string {
	lowered := make(map[string]any, len(obj))
	for k, v := range obj {
		lowered[strings.ToLower(k)] = v
	}
	for _, alias := range aliases {
		if s := stringValue(lowered[strings.ToLower(alias)]); s != "" {
			return s
		}
	}
	return ""
}

// LookupList is LookupString for list-valued fields.
func LookupList(obj map[string]any, aliases []string) []string {
	lowered := make(map[string]any, len(obj))
	for k, v := range obj {
		lowered[strings.ToLower(k)] = v
	}
	for _, alias := range aliases {
		switch v := lowered[strings.ToLower(alias)].(type) {
		case []any:
			var out []string
			for _, item := range v {
				if s := stringValue(item); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
