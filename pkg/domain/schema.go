package domain

import "fmt"

// RelationshipKind distinguishes to-one from to-many relationships.
type RelationshipKind string

// Supported relationship kinds.
const (
	KindBelongsTo RelationshipKind = "belongsTo"
	KindHasMany   RelationshipKind = "hasMany"
)

// Attribute describes a single scalar field of an entity type.
type Attribute struct {
	Name string
	// Default is applied when a record is created locally without a value.
	Default any
	// Validate holds an optional boolean expression evaluated against the
	// record's attributes before a save is handed to the adapter.
	Validate string
	// Message overrides the failure message reported for Validate.
	Message string
}

// Relationship describes a named link from one entity type to another.
type Relationship struct {
	Name        string
	Kind        RelationshipKind
	Type        string // target entity type
	Inverse     string // relationship name on the target type, empty when none
	Async       bool   // async relationships resolve through a promise proxy
	Polymorphic bool
}

// EntitySchema is the immutable descriptor for one entity type.
type EntitySchema struct {
	Name          string
	Attributes    map[string]Attribute
	Relationships map[string]Relationship
}

// Attribute reports the descriptor for key, if declared.
func (s EntitySchema) Attribute(key string) (Attribute, bool) {
	a, ok := s.Attributes[key]
	return a, ok
}

// Relationship reports the descriptor for key, if declared.
func (s EntitySchema) Relationship(key string) (Relationship, bool) {
	r, ok := s.Relationships[key]
	return r, ok
}

// SchemaSet resolves entity type descriptors by name. It is immutable after
// construction; the record core assumes descriptors never change.
type SchemaSet struct {
	entities map[string]EntitySchema
}

// NewSchemaSet builds a set from the given descriptors. Duplicate or unnamed
// entities are rejected.
func NewSchemaSet(entities ...EntitySchema) (*SchemaSet, error) {
	set := &SchemaSet{entities: make(map[string]EntitySchema, len(entities))}
	for _, e := range entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity schema without a name")
		}
		if _, ok := set.entities[e.Name]; ok {
			return nil, fmt.Errorf("duplicate entity schema %q", e.Name)
		}
		if e.Attributes == nil {
			e.Attributes = map[string]Attribute{}
		}
		if e.Relationships == nil {
			e.Relationships = map[string]Relationship{}
		}
		set.entities[e.Name] = e
	}
	return set, nil
}

// Entity resolves a descriptor by entity type name.
func (s *SchemaSet) Entity(name string) (EntitySchema, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// RelationshipFor resolves relationship metadata by entity type and key.
func (s *SchemaSet) RelationshipFor(entity, key string) (Relationship, bool) {
	e, ok := s.entities[entity]
	if !ok {
		return Relationship{}, false
	}
	return e.Relationship(key)
}

// Entities returns the names of all registered entity types.
func (s *SchemaSet) Entities() []string {
	out := make([]string, 0, len(s.entities))
	for name := range s.entities {
		out = append(out, name)
	}
	return out
}
