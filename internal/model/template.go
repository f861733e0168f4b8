package model

import "sort"

const maxTemplateExtra = 16

// TemplateConfig is the recognised set of template fields a campaign carries.
// Extra keeps unknown keys for forward compatibility and is capped at 16 entries.
type TemplateConfig struct {
	Method           string            `json:"method,omitempty"`
	Tone             string            `json:"tone,omitempty"`
	ValueProposition string            `json:"value_proposition,omitempty"`
	TargetIndustry   string            `json:"target_industry,omitempty"`
	TargetRole       string            `json:"target_role,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Normalize fills defaults and trims Extra to its bound.
func (t TemplateConfig) Normalize() TemplateConfig {
	if t.Method == "" {
		t.Method = "ai"
	}
	if t.Tone == "" {
		t.Tone = "professional"
	}
	if len(t.Extra) > maxTemplateExtra {
		trimmed := make(map[string]string, maxTemplateExtra)
		for _, k := range sortedKeys(t.Extra)[:maxTemplateExtra] {
			trimmed[k] = t.Extra[k]
		}
		t.Extra = trimmed
	}
	return t
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExtraKeys returns the keys of Extra in sorted order.
func (t TemplateConfig) ExtraKeys() []string {
	return sortedKeys(t.Extra)
}
