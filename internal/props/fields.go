package props

import (
	"encoding/json"
	"sort"
)

// Logical-field resolution. Dashboards want "the status", "the due date",
// "the project" of a record without knowing what the remote labels them.
// Matching arbitrary (possibly renamed or non-English) labels is a
// best-effort heuristic: preferred labels are tried first, then the first
// property of a compatible type wins. It never fails, it just may bind
// nothing.

var logicalFieldLabels = map[string][]string{
	"status":   {"Status", "State"},
	"due_date": {"Due", "Due Date", "Deadline"},
	"project":  {"Project", "Projekt"},
	"area":     {"Area", "Team"},
	"priority": {"Priority", "Prio"},
	"tags":     {"Tags", "Labels"},
}

var logicalFieldTypes = map[string][]string{
	"status":   {"select", "status"},
	"due_date": {"date"},
	"project":  {"select", "status"},
	"area":     {"select", "status"},
	"priority": {"select", "status"},
	"tags":     {"multi_select"},
}

// Fields is the resolved logical view of one record's properties.
type Fields struct {
	Title    string  `json:"title"`
	Status   *string `json:"status"`
	DueDate  *string `json:"due_date"`
	Project  *string `json:"project"`
	Area     *string `json:"area"`
	Priority *string `json:"priority"`
	TagsJSON *string `json:"tags_json"`
}

func propType(raw json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Type
}

// resolveProperty picks the property payload for a logical field: an exact
// label match of a compatible type first, otherwise the first compatible
// property in name order (sorted for determinism).
func resolveProperty(properties map[string]json.RawMessage, field string) (json.RawMessage, string) {
	types := logicalFieldTypes[field]
	compatible := func(t string) bool {
		for _, want := range types {
			if t == want {
				return true
			}
		}
		return false
	}
	for _, label := range logicalFieldLabels[field] {
		if raw, ok := properties[label]; ok {
			if t := propType(raw); compatible(t) {
				return raw, t
			}
		}
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t := propType(properties[name]); compatible(t) {
			return properties[name], t
		}
	}
	return nil, ""
}

func stringField(properties map[string]json.RawMessage, field string) *string {
	raw, t := resolveProperty(properties, field)
	if raw == nil {
		return nil
	}
	v, ok := ExtractValue(raw, t).(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// ResolveFields binds a record's properties to the logical dashboard fields.
func ResolveFields(properties map[string]json.RawMessage) Fields {
	f := Fields{
		Status:   stringField(properties, "status"),
		DueDate:  stringField(properties, "due_date"),
		Project:  stringField(properties, "project"),
		Area:     stringField(properties, "area"),
		Priority: stringField(properties, "priority"),
		TagsJSON: stringField(properties, "tags"),
	}

	// Title: the title-typed property, else the first rich_text one.
	for _, raw := range properties {
		if propType(raw) == "title" {
			if v, ok := ExtractValue(raw, "title").(string); ok {
				f.Title = v
			}
			break
		}
	}
	if f.Title == "" {
		names := make([]string, 0, len(properties))
		for name := range properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if propType(properties[name]) == "rich_text" {
				if v, ok := ExtractValue(properties[name], "rich_text").(string); ok && v != "" {
					f.Title = v
					break
				}
			}
		}
	}
	return f
}
