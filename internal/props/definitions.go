package props

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseDefinitions walks a schema "properties" object in document order and
// returns one Definition per property. Order matters: column de-duplication
// assigns suffixes in iteration order, and a map[string] round-trip would
// scramble it.
func ParseDefinitions(raw json.RawMessage) ([]Definition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse schema properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("parse schema properties: expected object, got %v", tok)
	}

	var defs []Definition
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse schema properties: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("parse schema properties: non-string key %v", keyTok)
		}
		var def struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse schema property %q: %w", name, err)
		}
		remoteType := def.Type
		if remoteType == "" {
			remoteType = "rich_text"
		}
		defs = append(defs, Definition{Name: name, RemoteType: remoteType, RemoteID: def.ID})
	}
	return defs, nil
}
