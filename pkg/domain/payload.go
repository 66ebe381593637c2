package domain

// Payload is the parsed, normalized form of a single record pushed into the
// core by the fetch/persistence collaborator. The wire format it was parsed
// from is not this core's concern.
type Payload struct {
	Type          string                      `json:"type"`
	ID            string                      `json:"id,omitempty"`
	Lid           string                      `json:"lid,omitempty"`
	Attributes    map[string]any              `json:"attributes,omitempty"`
	Relationships map[string]RelationshipData `json:"relationships,omitempty"`
}

// RelationshipData carries the structural content of one relationship inside a
// payload. A zero value is undefined ("not mentioned"), which is distinct from
// an empty to-many list or a null to-one reference.
type RelationshipData struct {
	defined bool
	many    bool
	one     *Identity
	list    []Identity
}

// ToOneData builds a defined to-one value; ref may be nil for an explicit null.
func ToOneData(ref *Identity) RelationshipData {
	data := RelationshipData{defined: true}
	if ref != nil {
		cp := *ref
		data.one = &cp
	}
	return data
}

// ToManyData builds a defined to-many value. The slice is cloned so callers
// cannot mutate shared state afterwards.
func ToManyData(refs []Identity) RelationshipData {
	return RelationshipData{defined: true, many: true, list: append([]Identity(nil), refs...)}
}

// Defined reports whether the payload mentioned this relationship at all.
func (d RelationshipData) Defined() bool { return d.defined }

// Many reports whether the value is a to-many list.
func (d RelationshipData) Many() bool { return d.many }

// One returns the to-one reference, or nil for null/undefined values.
func (d RelationshipData) One() *Identity {
	if d.one == nil {
		return nil
	}
	cp := *d.one
	return &cp
}

// List returns a copy of the to-many references. Nil when undefined.
func (d RelationshipData) List() []Identity {
	if !d.defined || !d.many {
		return nil
	}
	return append([]Identity(nil), d.list...)
}

// Len returns the number of to-many references.
func (d RelationshipData) Len() int { return len(d.list) }

// Equal reports structural equality of two relationship values.
func (d RelationshipData) Equal(other RelationshipData) bool {
	if d.defined != other.defined || d.many != other.many {
		return false
	}
	if !d.many {
		if (d.one == nil) != (other.one == nil) {
			return false
		}
		return d.one == nil || *d.one == *other.one
	}
	if len(d.list) != len(other.list) {
		return false
	}
	for i := range d.list {
		if d.list[i] != other.list[i] {
			return false
		}
	}
	return true
}
