package record

import (
	"reflect"
	"sort"

	"recordcore/pkg/domain"
)

// modelData is the default ModelData implementation: three attribute layers
// (canonical, in-flight, staged) plus the matching relationship layers. The
// effective value of a key is staged over in-flight over canonical.
type modelData struct {
	schema domain.EntitySchema

	remoteAttrs   map[string]any
	inFlightAttrs map[string]any
	localAttrs    map[string]any

	remoteRels   map[string]domain.RelationshipData
	inFlightRels map[string]domain.RelationshipData
	localRels    map[string]domain.RelationshipData
}

// NewModelData returns empty storage for a record of the given entity type.
func NewModelData(schema domain.EntitySchema) domain.ModelData {
	return &modelData{
		schema:        schema,
		remoteAttrs:   map[string]any{},
		inFlightAttrs: map[string]any{},
		localAttrs:    map[string]any{},
		remoteRels:    map[string]domain.RelationshipData{},
		inFlightRels:  map[string]domain.RelationshipData{},
		localRels:     map[string]domain.RelationshipData{},
	}
}

func (m *modelData) Attribute(key string) (any, bool) {
	if v, ok := m.localAttrs[key]; ok {
		return v, true
	}
	if v, ok := m.inFlightAttrs[key]; ok {
		return v, true
	}
	v, ok := m.remoteAttrs[key]
	return v, ok
}

func (m *modelData) SetAttribute(key string, value any) bool {
	current, _ := m.Attribute(key)
	if reflect.DeepEqual(current, value) {
		return false
	}
	canonical, hasCanonical := m.inFlightAttrs[key]
	if !hasCanonical {
		canonical, hasCanonical = m.remoteAttrs[key]
	}
	if hasCanonical && reflect.DeepEqual(canonical, value) {
		delete(m.localAttrs, key)
		return true
	}
	m.localAttrs[key] = value
	return true
}

func (m *modelData) Relationship(key string) (domain.RelationshipData, bool) {
	if d, ok := m.localRels[key]; ok {
		return d, true
	}
	if d, ok := m.inFlightRels[key]; ok {
		return d, true
	}
	d, ok := m.remoteRels[key]
	return d, ok
}

func (m *modelData) SetRelationship(key string, data domain.RelationshipData) {
	if canonical, ok := m.remoteRels[key]; ok && canonical.Equal(data) {
		delete(m.localRels, key)
		return
	}
	m.localRels[key] = data
}

// PushData merges canonical server state. A staged value equal to the new
// canonical value stops being a staged change.
func (m *modelData) PushData(p domain.Payload) []string {
	var changed []string
	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := p.Attributes[key]
		before, _ := m.Attribute(key)
		m.remoteAttrs[key] = value
		if staged, ok := m.localAttrs[key]; ok && reflect.DeepEqual(staged, value) {
			delete(m.localAttrs, key)
		}
		after, _ := m.Attribute(key)
		if !reflect.DeepEqual(before, after) {
			changed = append(changed, key)
		}
	}

	relKeys := make([]string, 0, len(p.Relationships))
	for k := range p.Relationships {
		relKeys = append(relKeys, k)
	}
	sort.Strings(relKeys)
	for _, key := range relKeys {
		data := p.Relationships[key]
		if !data.Defined() {
			continue
		}
		before, hadBefore := m.Relationship(key)
		m.remoteRels[key] = data
		if staged, ok := m.localRels[key]; ok && staged.Equal(data) {
			delete(m.localRels, key)
		}
		after, _ := m.Relationship(key)
		if !hadBefore || !before.Equal(after) {
			changed = append(changed, key)
		}
	}
	return changed
}

func (m *modelData) HasDirtyAttributes() bool {
	return len(m.localAttrs) > 0 || len(m.inFlightAttrs) > 0 ||
		len(m.localRels) > 0 || len(m.inFlightRels) > 0
}

func (m *modelData) ChangedAttributes() map[string][2]any {
	out := map[string][2]any{}
	for key, v := range m.inFlightAttrs {
		out[key] = [2]any{m.remoteAttrs[key], v}
	}
	for key, v := range m.localAttrs {
		out[key] = [2]any{m.remoteAttrs[key], v}
	}
	return out
}

func (m *modelData) WillCommit() {
	for k, v := range m.localAttrs {
		m.inFlightAttrs[k] = v
	}
	m.localAttrs = map[string]any{}
	for k, d := range m.localRels {
		m.inFlightRels[k] = d
	}
	m.localRels = map[string]domain.RelationshipData{}
}

// DidCommit confirms the in-flight set. With a payload, only attributes the
// server echoed are confirmed; the rest return to the staged set and stay
// dirty. A nil payload confirms everything in flight.
func (m *modelData) DidCommit(payload *domain.Payload) []string {
	var cleared []string

	keys := make([]string, 0, len(m.inFlightAttrs))
	for k := range m.inFlightAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := m.inFlightAttrs[key]
		if payload != nil {
			echoed, ok := payload.Attributes[key]
			if !ok {
				m.localAttrs[key] = v
				continue
			}
			v = echoed
		}
		m.remoteAttrs[key] = v
		cleared = append(cleared, key)
	}
	m.inFlightAttrs = map[string]any{}

	relKeys := make([]string, 0, len(m.inFlightRels))
	for k := range m.inFlightRels {
		relKeys = append(relKeys, k)
	}
	sort.Strings(relKeys)
	for _, key := range relKeys {
		m.remoteRels[key] = m.inFlightRels[key]
		cleared = append(cleared, key)
	}
	m.inFlightRels = map[string]domain.RelationshipData{}

	if payload != nil {
		cleared = append(cleared, m.PushData(*payload)...)
	}
	return dedupSorted(cleared)
}

func (m *modelData) CommitWasRejected() {
	for k, v := range m.inFlightAttrs {
		if _, ok := m.localAttrs[k]; !ok {
			m.localAttrs[k] = v
		}
	}
	m.inFlightAttrs = map[string]any{}
	for k, d := range m.inFlightRels {
		if _, ok := m.localRels[k]; !ok {
			m.localRels[k] = d
		}
	}
	m.inFlightRels = map[string]domain.RelationshipData{}
}

func (m *modelData) RollbackAttributes() []string {
	var keys []string
	for k := range m.localAttrs {
		keys = append(keys, k)
	}
	for k := range m.inFlightAttrs {
		keys = append(keys, k)
	}
	for k := range m.localRels {
		keys = append(keys, k)
	}
	for k := range m.inFlightRels {
		keys = append(keys, k)
	}
	m.localAttrs = map[string]any{}
	m.inFlightAttrs = map[string]any{}
	m.localRels = map[string]domain.RelationshipData{}
	m.inFlightRels = map[string]domain.RelationshipData{}
	sort.Strings(keys)
	return dedupSorted(keys)
}

// ClientDidCreate seeds schema-declared defaults as canonical state so a
// freshly created record is new but not attribute-dirty.
func (m *modelData) ClientDidCreate() {
	for _, attr := range m.schema.Attributes {
		if attr.Default == nil {
			continue
		}
		if _, ok := m.remoteAttrs[attr.Name]; !ok {
			m.remoteAttrs[attr.Name] = attr.Default
		}
	}
}

func (m *modelData) RemoveFromInverseRelationships() {
	m.localRels = map[string]domain.RelationshipData{}
	m.inFlightRels = map[string]domain.RelationshipData{}
	m.remoteRels = map[string]domain.RelationshipData{}
}

func (m *modelData) UnloadRecord() {
	m.remoteAttrs = map[string]any{}
	m.inFlightAttrs = map[string]any{}
	m.localAttrs = map[string]any{}
	m.remoteRels = map[string]domain.RelationshipData{}
	m.inFlightRels = map[string]domain.RelationshipData{}
	m.localRels = map[string]domain.RelationshipData{}
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	sort.Strings(keys)
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
