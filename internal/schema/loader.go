// Package schema loads field schemas and partitions them into extraction
// batches.
package schema

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/quotefill/internal/model"
)

// schemaFile is the on-disk YAML layout for a template variant.
type schemaFile struct {
	Variant string            `yaml:"variant"`
	Fields  []model.FieldSpec `yaml:"fields"`
}

// Load reads a variant schema from a YAML file.
func Load(path string) (*model.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a variant schema from YAML bytes and validates it.
func Parse(data []byte) (*model.Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "schema: decode yaml")
	}
	if f.Variant == "" {
		return nil, eris.New("schema: missing variant")
	}
	if len(f.Fields) == 0 {
		return nil, eris.Errorf("schema: variant %s declares no fields", f.Variant)
	}

	seen := make(map[string]bool, len(f.Fields))
	for i := range f.Fields {
		fs := &f.Fields[i]
		if fs.Name == "" {
			return nil, eris.Errorf("schema: field %d has no name", i)
		}
		if seen[fs.Name] {
			return nil, eris.Errorf("schema: duplicate field %q", fs.Name)
		}
		seen[fs.Name] = true

		if fs.Type == "" {
			fs.Type = model.FieldText
		}
		switch fs.Type {
		case model.FieldText, model.FieldBoolean, model.FieldEnum:
		default:
			return nil, eris.Errorf("schema: field %q has unknown type %q", fs.Name, fs.Type)
		}
		if fs.Type == model.FieldEnum && len(fs.Options) == 0 {
			return nil, eris.Errorf("schema: enum field %q declares no options", fs.Name)
		}
	}

	return model.NewSchema(f.Variant, f.Fields), nil
}
