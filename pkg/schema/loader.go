// Package schema loads entity type descriptors from YAML documents.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"recordcore/pkg/domain"
)

type document struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name          string            `yaml:"name"`
	Attributes    []attributeDoc    `yaml:"attributes"`
	Relationships []relationshipDoc `yaml:"relationships"`
}

type attributeDoc struct {
	Name     string `yaml:"name"`
	Default  any    `yaml:"default"`
	Validate string `yaml:"validate"`
	Message  string `yaml:"message"`
}

type relationshipDoc struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Type        string `yaml:"type"`
	Inverse     string `yaml:"inverse"`
	Async       bool   `yaml:"async"`
	Polymorphic bool   `yaml:"polymorphic"`
}

// Load parses a YAML document into a schema set. Relationship kinds and
// target types are checked; an inverse must exist on the target type.
func Load(r io.Reader) (*domain.SchemaSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("schema document declares no entities")
	}

	entities := make([]domain.EntitySchema, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		schema := domain.EntitySchema{
			Name:          e.Name,
			Attributes:    map[string]domain.Attribute{},
			Relationships: map[string]domain.Relationship{},
		}
		for _, a := range e.Attributes {
			if a.Name == "" {
				return nil, fmt.Errorf("entity %q declares an unnamed attribute", e.Name)
			}
			if _, ok := schema.Attributes[a.Name]; ok {
				return nil, fmt.Errorf("entity %q declares attribute %q twice", e.Name, a.Name)
			}
			schema.Attributes[a.Name] = domain.Attribute{
				Name:     a.Name,
				Default:  a.Default,
				Validate: a.Validate,
				Message:  a.Message,
			}
		}
		for _, r := range e.Relationships {
			if r.Name == "" {
				return nil, fmt.Errorf("entity %q declares an unnamed relationship", e.Name)
			}
			if _, ok := schema.Relationships[r.Name]; ok {
				return nil, fmt.Errorf("entity %q declares relationship %q twice", e.Name, r.Name)
			}
			kind := domain.RelationshipKind(r.Kind)
			if kind != domain.KindBelongsTo && kind != domain.KindHasMany {
				return nil, fmt.Errorf("relationship %s.%s has unknown kind %q", e.Name, r.Name, r.Kind)
			}
			if r.Type == "" {
				return nil, fmt.Errorf("relationship %s.%s has no target type", e.Name, r.Name)
			}
			schema.Relationships[r.Name] = domain.Relationship{
				Name:        r.Name,
				Kind:        kind,
				Type:        r.Type,
				Inverse:     r.Inverse,
				Async:       r.Async,
				Polymorphic: r.Polymorphic,
			}
		}
		entities = append(entities, schema)
	}

	set, err := domain.NewSchemaSet(entities...)
	if err != nil {
		return nil, err
	}
	if err := checkReferences(set, entities); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadFile parses the YAML file at path.
func LoadFile(path string) (*domain.SchemaSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func checkReferences(set *domain.SchemaSet, entities []domain.EntitySchema) error {
	for _, e := range entities {
		for _, rel := range e.Relationships {
			// Polymorphic targets resolve per record, not per schema.
			if rel.Polymorphic {
				continue
			}
			target, ok := set.Entity(rel.Type)
			if !ok {
				return fmt.Errorf("relationship %s.%s targets unknown entity %q", e.Name, rel.Name, rel.Type)
			}
			if rel.Inverse == "" {
				continue
			}
			if _, ok := target.Relationship(rel.Inverse); !ok {
				return fmt.Errorf("relationship %s.%s names inverse %q missing on %q", e.Name, rel.Name, rel.Inverse, rel.Type)
			}
		}
	}
	return nil
}
