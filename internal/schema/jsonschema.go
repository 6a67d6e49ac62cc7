package schema

import (
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
)

// Mode selects which request or response shape a JSON Schema describes.
type Mode string

const (
	ModeInsert Mode = "insert"
	ModeUpdate Mode = "update"
	ModeSelect Mode = "select"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInsert, ModeUpdate, ModeSelect:
		return Mode(s), nil
	case "":
		return ModeSelect, nil
	default:
		return "", errs.Newf(errs.ErrKindInvalidInput, "unknown schema mode %q", s)
	}
}

// JSONSchemaDoc is a draft 2020-12 object schema for one table.
type JSONSchemaDoc struct {
	Schema               string               `json:"$schema"`
	Title                string               `json:"title"`
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties bool                 `json:"additionalProperties"`
}

// Property describes one column.
type Property struct {
	Type            any                  `json:"type,omitempty"`
	ContentEncoding string               `json:"contentEncoding,omitempty"`
	Properties      map[string]*Property `json:"properties,omitempty"`
	Required        []string             `json:"required,omitempty"`
}

// JSONSchema renders the schema of records accepted (insert, update) or
// returned (select) for a table.
func JSONSchema(d *TableDescriptor, mode Mode) *JSONSchemaDoc {
	doc := &JSONSchemaDoc{
		Schema:     "https://json-schema.org/draft/2020-12/schema",
		Title:      d.Name,
		Type:       "object",
		Properties: make(map[string]*Property, len(d.Columns)),
	}

	for _, c := range d.Columns {
		prop := columnProperty(c)

		if mode == ModeSelect {
			if _, ok := d.Relation(c.Name); ok {
				prop = relationProperty(prop, c.Nullable)
			}
		}
		doc.Properties[c.Name] = prop

		switch mode {
		case ModeInsert:
			if !c.Nullable && !c.HasDefault && !c.GeneratedKey() {
				doc.Required = append(doc.Required, c.Name)
			}
		case ModeSelect:
			doc.Required = append(doc.Required, c.Name)
		}
	}
	return doc
}

func columnProperty(c ColumnDescriptor) *Property {
	p := &Property{}
	var t string
	switch c.Type {
	case record.KindInteger:
		t = "integer"
	case record.KindReal:
		t = "number"
	case record.KindText:
		t = "string"
	case record.KindBlob:
		t = "string"
		p.ContentEncoding = "base64url"
	default:
		return p // untyped: any JSON value
	}
	if c.Nullable {
		p.Type = []string{t, "null"}
	} else {
		p.Type = t
	}
	return p
}

func relationProperty(id *Property, nullable bool) *Property {
	p := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"id":   {Type: id.Type, ContentEncoding: id.ContentEncoding},
			"data": {Type: []string{"object", "null"}},
		},
		Required: []string{"id", "data"},
	}
	if nullable {
		p.Type = []string{"object", "null"}
	}
	return p
}
