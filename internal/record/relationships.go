package record

import (
	"recordcore/pkg/domain"
)

// ManyCollection is the live, ordered content of a to-many relationship.
// Accessors hand out copies; the collection itself mutates in place as
// canonical or staged data changes, so a held reference always reflects
// current content. External holders retain the collection to keep it alive
// across owner dematerialization.
type ManyCollection struct {
	key      string
	members  []domain.Identity
	retained int
}

// Key returns the relationship name this collection materializes.
func (c *ManyCollection) Key() string { return c.key }

// Len returns the current member count.
func (c *ManyCollection) Len() int { return len(c.members) }

// Identities returns a copy of the current ordered membership.
func (c *ManyCollection) Identities() []domain.Identity {
	out := make([]domain.Identity, len(c.members))
	copy(out, c.members)
	return out
}

// Retain marks the collection externally held.
func (c *ManyCollection) Retain() { c.retained++ }

// Release drops one external hold.
func (c *ManyCollection) Release() {
	if c.retained > 0 {
		c.retained--
	}
}

func (c *ManyCollection) setMembers(ids []domain.Identity) {
	c.members = append(c.members[:0], ids...)
}

// relEntry caches the materialized view of one relationship key.
type relEntry struct {
	rel    domain.Relationship
	many   *ManyCollection
	one    *domain.Identity
	loaded bool
	stale  bool
	// promise is the current proxy for async access: in flight until the
	// fetch settles, then reused while the entry stays fresh.
	promise *Promise
}

// relationshipCache holds per-key materialized relationship state for one
// control block. A key lives in at most one of the active and retained maps:
// active while the owner is materialized, retained only for externally-held
// to-many collections surviving dematerialization.
type relationshipCache struct {
	b        *Block
	active   map[string]*relEntry
	retained map[string]*ManyCollection
}

func newRelationshipCache(b *Block) *relationshipCache {
	return &relationshipCache{
		b:        b,
		active:   map[string]*relEntry{},
		retained: map[string]*ManyCollection{},
	}
}

func (rc *relationshipCache) entry(rel domain.Relationship) *relEntry {
	if e, ok := rc.active[rel.Name]; ok {
		return e
	}
	// A retained collection belongs to the previous incarnation's holders and
	// never becomes the live collection again. The new active entry gets a
	// fresh collection; the retained one is dropped from the cache and lives
	// only as long as its holders do.
	delete(rc.retained, rel.Name)
	e := &relEntry{rel: rel}
	rc.active[rel.Name] = e
	return e
}

// relationshipDidChange invalidates the cached view for key. Any change to a
// property of the key invalidates, even when membership is provably
// unaffected. An unsettled promise is kept: it resolves against live content
// and needs no replacement. A settled promise is dropped so the next access
// recomputes.
func (rc *relationshipCache) relationshipDidChange(key string) {
	e, ok := rc.active[key]
	if !ok {
		return
	}
	e.loaded = false
	if e.promise != nil && e.promise.Settled() {
		e.promise = nil
	}
	rc.refreshContent(e)
}

// refreshContent re-derives live content from effective relationship data so
// held collections and unsettled promises observe the change immediately.
func (rc *relationshipCache) refreshContent(e *relEntry) {
	data, ok := rc.b.md.Relationship(e.rel.Name)
	if !ok || !data.Defined() {
		return
	}
	if e.rel.Kind == domain.KindHasMany {
		if e.many != nil {
			e.many.setMembers(data.List())
		}
		return
	}
	e.one = data.One()
}

// clearPromises drops settled promise proxies for every active key. Runs when
// the record leaves the loaded superstate; content stays, the next async
// access builds a fresh proxy.
func (rc *relationshipCache) clearPromises() {
	for _, e := range rc.active {
		if e.promise != nil && e.promise.Settled() {
			e.promise = nil
		}
		e.loaded = false
	}
}

// dematerialize empties the active cache. To-many collections still held
// externally move to the retained cache and keep their last content; every
// other entry is dropped.
func (rc *relationshipCache) dematerialize() {
	for key, e := range rc.active {
		if e.promise != nil && !e.promise.Settled() {
			e.promise.reject(domain.RecordUnloadedError{Identity: rc.b.identity})
		}
		if e.many != nil && e.many.retained > 0 {
			rc.retained[key] = e.many
		}
	}
	rc.active = map[string]*relEntry{}
}

// destroy drops everything, retained collections included.
func (rc *relationshipCache) destroy() {
	rc.dematerialize()
	rc.retained = map[string]*ManyCollection{}
}

// retainedCollection exposes the retained cache for teardown checks.
func (rc *relationshipCache) retainedCollection(key string) (*ManyCollection, bool) {
	col, ok := rc.retained[key]
	return col, ok
}

// BelongsTo resolves a to-one relationship synchronously. The related record
// must already be loaded; a reference to an absent record fails with
// MissingAssociatedRecordsError and never triggers a fetch.
func (b *Block) BelongsTo(key string) (*Block, error) {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindBelongsTo {
		return nil, domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-one relationship"}
	}
	e := b.rels.entry(rel)
	data, defined := b.md.Relationship(key)
	if !defined || !data.Defined() || data.One() == nil {
		e.one = nil
		e.loaded = true
		return nil, nil
	}
	target, found := b.env.Peek(*data.One())
	if !found {
		return nil, domain.MissingAssociatedRecordsError{Identity: b.identity, Key: key, Missing: []domain.Identity{*data.One()}}
	}
	id := target.Identity()
	e.one = &id
	e.loaded = true
	return target, nil
}

// BelongsToAsync resolves a to-one relationship through a promise proxy. The
// proxy's content tracks the live related record; repeated access while the
// entry is fresh reuses the settled promise.
func (b *Block) BelongsToAsync(key string) (*Promise, error) {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindBelongsTo {
		return nil, domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-one relationship"}
	}
	e := b.rels.entry(rel)
	if e.promise != nil && (!e.promise.Settled() || (e.loaded && !e.stale)) {
		return e.promise, nil
	}
	p := newPromise(func() any {
		if e.one == nil {
			return (*Block)(nil)
		}
		target, found := b.env.Peek(*e.one)
		if !found {
			return (*Block)(nil)
		}
		return target
	})
	e.promise = p

	if data, defined := b.md.Relationship(key); defined && data.Defined() && !e.stale {
		e.one = data.One()
		e.loaded = true
		p.resolve()
		return p, nil
	}

	b.env.FetchBelongsTo(b, rel, func(id *domain.Identity, err error) {
		if err != nil {
			e.promise = nil
			p.reject(err)
			return
		}
		e.one = id
		e.loaded = true
		e.stale = false
		p.resolve()
	})
	return p, nil
}

// HasMany resolves a to-many relationship synchronously. Every member must
// already be loaded; absent members fail the access with the full missing
// list and never trigger a fetch.
func (b *Block) HasMany(key string) (*ManyCollection, error) {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindHasMany {
		return nil, domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-many relationship"}
	}
	e := b.rels.entry(rel)
	if e.many == nil {
		e.many = &ManyCollection{key: key}
	}
	data, defined := b.md.Relationship(key)
	if !defined || !data.Defined() {
		e.many.setMembers(nil)
		e.loaded = true
		return e.many, nil
	}
	var missing []domain.Identity
	for _, id := range data.List() {
		if _, found := b.env.Peek(id); !found {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, domain.MissingAssociatedRecordsError{Identity: b.identity, Key: key, Missing: missing}
	}
	e.many.setMembers(data.List())
	e.loaded = true
	e.stale = false
	return e.many, nil
}

// HasManyAsync resolves a to-many relationship through a promise proxy backed
// by the live collection. Observers holding the proxy before settlement see
// the same collection the settlement delivers.
func (b *Block) HasManyAsync(key string) (*Promise, error) {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindHasMany {
		return nil, domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-many relationship"}
	}
	e := b.rels.entry(rel)
	if e.many == nil {
		e.many = &ManyCollection{key: key}
	}
	if e.promise != nil && (!e.promise.Settled() || (e.loaded && !e.stale)) {
		return e.promise, nil
	}
	col := e.many
	p := newPromise(func() any { return col })
	e.promise = p

	if data, defined := b.md.Relationship(key); defined && data.Defined() && !e.stale {
		col.setMembers(data.List())
		e.loaded = true
		p.resolve()
		return p, nil
	}

	b.env.FetchHasMany(b, rel, func(ids []domain.Identity, err error) {
		if err != nil {
			e.promise = nil
			p.reject(err)
			return
		}
		col.setMembers(ids)
		e.loaded = true
		e.stale = false
		p.resolve()
	})
	return p, nil
}

// ReloadRelationship marks the key stale and refetches it, reusing an
// unsettled in-flight promise instead of issuing a second fetch.
func (b *Block) ReloadRelationship(key string) (*Promise, error) {
	rel, ok := b.schema.Relationship(key)
	if !ok {
		return nil, domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "unknown relationship"}
	}
	e := b.rels.entry(rel)
	if e.promise != nil && !e.promise.Settled() {
		return e.promise, nil
	}
	e.stale = true
	e.promise = nil
	if rel.Kind == domain.KindHasMany {
		return b.HasManyAsync(key)
	}
	return b.BelongsToAsync(key)
}

// RetainedCollection returns the retained to-many collection for key, if one
// survived dematerialization.
func (b *Block) RetainedCollection(key string) (*ManyCollection, bool) {
	return b.rels.retainedCollection(key)
}
