package llm

import (
	"encoding/json"
	"strings"
)

// DecodeObject finds the first well-formed JSON object in content and decodes
// it into v. Models often wrap JSON in prose or code fences, so every '{' is
// tried as a start position until one decodes.
func DecodeObject(content string, v any) bool {
	for i := 0; i < len(content); i++ {
		if content[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(content[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if err := json.Unmarshal(raw, v); err == nil {
			return true
		}
	}
	return false
}
