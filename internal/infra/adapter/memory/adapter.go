// Package memory provides the in-memory reference adapter. The SQL-backed
// adapters embed it and add durability; behavior is identical across drivers.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"recordcore/pkg/domain"
)

// Adapter stores canonical record state in process memory.
type Adapter struct {
	mu      sync.RWMutex
	records map[string]map[string]*storedRecord // entity type -> id
}

type storedRecord struct {
	id         string
	attributes map[string]any
	links      map[string]domain.RelationshipData
}

// New returns an empty adapter.
func New() *Adapter {
	return &Adapter{records: map[string]map[string]*storedRecord{}}
}

// Seed loads canonical payloads directly, outside any save pipeline. Intended
// for tests and fixtures; payloads must carry an id.
func (a *Adapter) Seed(payloads ...domain.Payload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range payloads {
		rec := a.ensure(p.Type, p.ID)
		for k, v := range p.Attributes {
			rec.attributes[k] = v
		}
		for k, d := range p.Relationships {
			rec.links[k] = d
		}
	}
}

func (a *Adapter) ensure(entity, id string) *storedRecord {
	byID, ok := a.records[entity]
	if !ok {
		byID = map[string]*storedRecord{}
		a.records[entity] = byID
	}
	rec, ok := byID[id]
	if !ok {
		rec = &storedRecord{
			id:         id,
			attributes: map[string]any{},
			links:      map[string]domain.RelationshipData{},
		}
		byID[id] = rec
	}
	return rec
}

// FindRecord implements domain.Adapter.
func (a *Adapter) FindRecord(_ context.Context, schema domain.EntitySchema, id domain.Identity) (domain.Payload, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[schema.Name][id.ID]
	if !ok {
		return domain.Payload{}, domain.NotFoundError{Identity: id}
	}
	return a.payloadOf(schema.Name, rec), nil
}

func (a *Adapter) payloadOf(entity string, rec *storedRecord) domain.Payload {
	p := domain.Payload{Type: entity, ID: rec.id, Attributes: map[string]any{}}
	for k, v := range rec.attributes {
		p.Attributes[k] = v
	}
	if len(rec.links) > 0 {
		p.Relationships = map[string]domain.RelationshipData{}
		for k, d := range rec.links {
			p.Relationships[k] = d
		}
	}
	return p
}

// SaveRecord implements domain.Adapter. Creates assign a server id when the
// snapshot carries none; deletes are idempotent.
func (a *Adapter) SaveRecord(_ context.Context, schema domain.EntitySchema, op domain.SaveOp, snap domain.RecordSnapshot) (*domain.Payload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch op {
	case domain.SaveDelete:
		if byID, ok := a.records[schema.Name]; ok {
			delete(byID, snap.Identity.ID)
		}
		return nil, nil
	case domain.SaveCreate:
		id := snap.Identity.ID
		if id == "" {
			id = uuid.NewString()
		}
		rec := a.ensure(schema.Name, id)
		for k, v := range snap.Attributes {
			rec.attributes[k] = v
		}
		for k, d := range snap.Relationships {
			rec.links[k] = d
		}
		p := a.payloadOf(schema.Name, rec)
		return &p, nil
	default:
		rec, ok := a.records[schema.Name][snap.Identity.ID]
		if !ok {
			return nil, domain.NotFoundError{Identity: snap.Identity}
		}
		for k, v := range snap.Attributes {
			rec.attributes[k] = v
		}
		for k, d := range snap.Relationships {
			rec.links[k] = d
		}
		p := a.payloadOf(schema.Name, rec)
		return &p, nil
	}
}

// FindBelongsTo implements domain.Adapter from the owner's stored link.
func (a *Adapter) FindBelongsTo(_ context.Context, schema domain.EntitySchema, owner domain.Identity, rel domain.Relationship) (*domain.Identity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[schema.Name][owner.ID]
	if !ok {
		return nil, domain.NotFoundError{Identity: owner}
	}
	if d, ok := rec.links[rel.Name]; ok && d.Defined() {
		return d.One(), nil
	}
	return nil, nil
}

// FindHasMany implements domain.Adapter. Without a stored link it falls back
// to an inverse scan over records of the target type.
func (a *Adapter) FindHasMany(_ context.Context, schema domain.EntitySchema, owner domain.Identity, rel domain.Relationship) ([]domain.Identity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[schema.Name][owner.ID]
	if !ok {
		return nil, domain.NotFoundError{Identity: owner}
	}
	if d, ok := rec.links[rel.Name]; ok && d.Defined() && d.Many() {
		return d.List(), nil
	}
	if rel.Inverse == "" {
		return nil, nil
	}
	var out []domain.Identity
	for id, target := range a.records[rel.Type] {
		link, ok := target.links[rel.Inverse]
		if !ok || !link.Defined() || link.Many() {
			continue
		}
		if one := link.One(); one != nil && one.Type == schema.Name && one.ID == owner.ID {
			out = append(out, domain.Identity{Type: rel.Type, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
