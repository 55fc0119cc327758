// Package voice resolves voice ids to reference samples and turns them into
// conditioning context for the speech model.
package voice

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

// DefaultReferenceText is the phrase paired with every voice sample unless the
// catalog names another.
const DefaultReferenceText = "This is a voice sample for cloning."

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["voices"],
  "additionalProperties": false,
  "properties": {
    "voices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "file"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "integer", "minimum": 0},
          "name": {"type": "string"},
          "file": {"type": "string", "minLength": 1},
          "reference_text": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("voice-catalog.schema.json", catalogSchema)

// Entry maps one voice id to a sample file.
type Entry struct {
	ID            int    `yaml:"id"`
	Name          string `yaml:"name"`
	File          string `yaml:"file"`
	ReferenceText string `yaml:"reference_text"`
}

// Catalog is the parsed voice catalog file.
type Catalog struct {
	Voices []Entry `yaml:"voices"`
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id int) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	for _, e := range c.Voices {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading voice catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates data against the catalog schema and decodes it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("voice catalog validation failed: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("decoding voice catalog: %w", err)
	}

	seen := make(map[int]bool, len(catalog.Voices))
	for _, e := range catalog.Voices {
		if seen[e.ID] {
			return nil, fmt.Errorf("voice catalog: duplicate id %d", e.ID)
		}
		seen[e.ID] = true
	}

	return &catalog, nil
}
