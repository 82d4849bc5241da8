package notion

import "encoding/json"

// DataSourceRef is a named sub-source listed on a database. Newer API
// versions split one database into multiple queryable data sources.
type DataSourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Database is the metadata envelope for a database container.
type Database struct {
	ID          string                     `json:"id"`
	Title       []RichText                 `json:"title"`
	URL         string                     `json:"url"`
	DataSources []DataSourceRef            `json:"data_sources"`
	Properties  map[string]json.RawMessage `json:"properties"`
	// PropertiesRaw preserves the property object in document order for
	// deterministic column assignment.
	PropertiesRaw json.RawMessage `json:"-"`
}

// DataSource is one queryable sub-source with its own property schema.
type DataSource struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Properties    map[string]json.RawMessage `json:"properties"`
	PropertiesRaw json.RawMessage            `json:"-"`
}

// RichText is the subset of an inline text run we read.
type RichText struct {
	PlainText string `json:"plain_text"`
}

// PlainText joins the runs of a rich-text array.
func PlainText(runs []RichText) string {
	var out string
	for _, r := range runs {
		out += r.PlainText
	}
	return out
}

// Parent identifies where a page lives.
type Parent struct {
	DataSourceID string `json:"data_source_id"`
	DatabaseID   string `json:"database_id"`
}

// Page is one remote record. Raw keeps the exact JSON as received, for the
// snapshot table.
type Page struct {
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	Archived       bool                       `json:"archived"`
	CreatedTime    string                     `json:"created_time"`
	LastEditedTime string                     `json:"last_edited_time"`
	Parent         Parent                     `json:"parent"`
	Properties     map[string]json.RawMessage `json:"properties"`
	Raw            json.RawMessage            `json:"-"`
}

// DecodePage parses a raw page payload, retaining the original bytes.
func DecodePage(raw json.RawMessage) (Page, error) {
	var p Page
	if err := json.Unmarshal(raw, &p); err != nil {
		return Page{}, err
	}
	p.Raw = raw
	return p, nil
}

// Title returns the page's title property text, or "" when absent.
func (p Page) Title() string {
	for _, raw := range p.Properties {
		var prop struct {
			Type  string     `json:"type"`
			Title []RichText `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		if prop.Type == "title" {
			return PlainText(prop.Title)
		}
	}
	return ""
}

// queryResponse is one page of query results.
type queryResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// searchResponse is the /search envelope.
type searchResponse struct {
	Results []struct {
		ID    string     `json:"id"`
		Title []RichText `json:"title"`
	} `json:"results"`
}

// databaseEnvelope mirrors Database but keeps properties raw so the key
// order of the schema object survives decoding.
type databaseEnvelope struct {
	ID          string          `json:"id"`
	Title       []RichText      `json:"title"`
	URL         string          `json:"url"`
	DataSources []DataSourceRef `json:"data_sources"`
	Properties  json.RawMessage `json:"properties"`
}

type dataSourceEnvelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Properties json.RawMessage `json:"properties"`
}
