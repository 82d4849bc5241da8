// Package props converts Notion property definitions and values into the
// shapes the local store persists: a stable property-to-column map and
// storage-native scalar values.
package props

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Storage types for wide-table columns.
const (
	StorageText    = "TEXT"
	StorageReal    = "REAL"
	StorageInteger = "INTEGER"
)

// Definition is one property as discovered from the remote schema.
type Definition struct {
	Name       string
	RemoteType string
	RemoteID   string
}

// Entry maps one logical property name to its physical column.
type Entry struct {
	Column      string `json:"column"`
	RemoteType  string `json:"type"`
	RemoteID    string `json:"id"`
	StorageType string `json:"storage_type"`
}

// Map is the single source of truth for translating property names to
// wide-table columns, on both the write and the read path.
type Map map[string]Entry

// Column resolves a logical property name to its physical column, falling
// back to the name itself when the property is unknown.
func (m Map) Column(name string) string {
	if e, ok := m[name]; ok && e.Column != "" {
		return e.Column
	}
	return name
}

// TextColumns returns the columns with TEXT storage, in no particular order.
func (m Map) TextColumns() []string {
	var cols []string
	for _, e := range m {
		if e.StorageType == StorageText && e.Column != "" {
			cols = append(cols, e.Column)
		}
	}
	return cols
}

// RelationColumns returns property name -> column for relation properties.
func (m Map) RelationColumns() map[string]string {
	out := make(map[string]string)
	for name, e := range m {
		if e.RemoteType == "relation" {
			out[name] = e.Column
		}
	}
	return out
}

// StorageTypeFor maps a remote property type to the column type it is stored
// under. Multi-valued and computed types are stored as JSON text.
func StorageTypeFor(remoteType string) string {
	switch remoteType {
	case "number":
		return StorageReal
	case "checkbox":
		return StorageInteger
	default:
		return StorageText
	}
}

// NormalizeColumn derives a SQLite identifier from a property name:
// lowercase, runs of non-alphanumerics collapsed to underscores, leading
// digit prefixed. Empty input normalizes to "col".
func NormalizeColumn(name string) string {
	var b strings.Builder
	lastUnderscore := true // swallow leading separators
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	col := strings.Trim(b.String(), "_")
	if col == "" {
		return "col"
	}
	if col[0] >= '0' && col[0] <= '9' {
		col = "c_" + col
	}
	return col
}

// BuildMap assigns a collision-free column to every definition, in input
// order. Duplicate normalized names get a _2, _3, ... suffix, so the result
// is deterministic for a given definition order.
func BuildMap(defs []Definition) Map {
	m := make(Map, len(defs))
	used := make(map[string]bool, len(defs))
	for _, d := range defs {
		base := NormalizeColumn(d.Name)
		col := base
		for i := 2; used[col]; i++ {
			col = fmt.Sprintf("%s_%d", base, i)
		}
		used[col] = true
		m[d.Name] = Entry{
			Column:      col,
			RemoteType:  d.RemoteType,
			RemoteID:    d.RemoteID,
			StorageType: StorageTypeFor(d.RemoteType),
		}
	}
	return m
}

// richTextRun is the subset of a Notion rich-text block we read.
type richTextRun struct {
	PlainText string `json:"plain_text"`
}

// selectOption is a select/status option payload.
type selectOption struct {
	Name string `json:"name"`
}

// ExtractText concatenates the plain-text runs of a rich-text array.
func ExtractText(raw json.RawMessage) string {
	var runs []richTextRun
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.PlainText)
	}
	return strings.TrimSpace(b.String())
}

// ExtractValue converts one property value payload into the storage-native
// value for its column. The payload is the full property object as returned
// by the API, e.g. {"type":"select","select":{"name":"Done"}}. A nil result
// stores SQL NULL.
func ExtractValue(raw json.RawMessage, remoteType string) any {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	inner, ok := obj[remoteType]
	if !ok || string(inner) == "null" {
		return nil
	}

	switch remoteType {
	case "title", "rich_text":
		return ExtractText(inner)
	case "select", "status":
		var opt selectOption
		if err := json.Unmarshal(inner, &opt); err != nil || opt.Name == "" {
			return nil
		}
		return opt.Name
	case "multi_select":
		var opts []selectOption
		if err := json.Unmarshal(inner, &opts); err != nil {
			return nil
		}
		names := make([]string, 0, len(opts))
		for _, o := range opts {
			if o.Name != "" {
				names = append(names, o.Name)
			}
		}
		encoded, err := json.Marshal(names)
		if err != nil {
			return nil
		}
		return string(encoded)
	case "date":
		var d struct {
			Start string `json:"start"`
		}
		if err := json.Unmarshal(inner, &d); err != nil || d.Start == "" {
			return nil
		}
		return d.Start
	case "number":
		var n float64
		if err := json.Unmarshal(inner, &n); err != nil {
			return nil
		}
		return n
	case "checkbox":
		var v bool
		if err := json.Unmarshal(inner, &v); err != nil {
			return nil
		}
		if v {
			return int64(1)
		}
		return int64(0)
	case "email", "url", "phone_number":
		var s string
		if err := json.Unmarshal(inner, &s); err != nil || s == "" {
			return nil
		}
		return s
	default:
		// relation, people, files, formula, rollup and anything new: keep
		// the raw sub-structure as JSON. Relations additionally feed the
		// edge table via the sync pass.
		return string(inner)
	}
}
