package record

import (
	"reflect"
	"sort"

	"recordcore/pkg/domain"
)

// Env is everything a control block requires from its owning store: schema
// resolution, identity-map access, fetch scheduling, and teardown queues.
type Env interface {
	// Schema resolves an entity type descriptor by name.
	Schema(entity string) (domain.EntitySchema, bool)
	// Peek resolves an existing control block without creating one.
	Peek(id domain.Identity) (*Block, bool)
	// CreateFacade materializes a facade for the identity.
	CreateFacade(id domain.Identity, schema domain.EntitySchema) domain.Facade
	// FetchBelongsTo issues an async to-one fetch; done runs on the owning
	// scheduler once the fetch settles.
	FetchBelongsTo(b *Block, rel domain.Relationship, done func(*domain.Identity, error))
	// FetchHasMany issues an async to-many fetch.
	FetchHasMany(b *Block, rel domain.Relationship, done func([]domain.Identity, error))
	// ReloadRecord issues an async refetch of the record itself.
	ReloadRecord(b *Block, done func(*domain.Payload, error))
	// RecordDidChange notifies the membership tracker that query results may
	// need re-evaluation for this record.
	RecordDidChange(id domain.Identity)
	// UpdateID reindexes the identity map after an id assignment.
	UpdateID(b *Block, previous domain.Identity) error
	// ScheduleDestroy queues the block on the pending-destroy queue drained
	// at the next flush boundary.
	ScheduleDestroy(b *Block)
	// Evict removes a destroyed block from the identity map.
	Evict(b *Block)
}

// PropertyChange is the context carried by a didSetProperty event.
type PropertyChange struct {
	Key      string
	OldValue any
	Value    any
	WasDirty bool
	IsDirty  bool
}

type reloadRequest struct {
	done func(*domain.Payload, error)
}

// Block is the per-record control block: the single authoritative owner of
// identity, lifecycle state, error state, and relationship caches for one
// record. Exactly one block exists per identity for the process lifetime
// while the identity is loaded.
type Block struct {
	env      Env
	machine  *Machine
	identity domain.Identity
	schema   domain.EntitySchema
	current  *State
	md       domain.ModelData

	facade   domain.Facade
	triggers []deferredTrigger
	rels     *relationshipCache

	err              error
	isError          bool
	validationErrors *domain.ValidationError
	isReloading      bool

	inTransition    bool
	afterTransition []func() error

	isDestroying      bool
	isDestroyed       bool
	isDematerializing bool
	doNotDestroy      bool
	destroyScheduled  bool
}

// NewBlock constructs a control block in root.empty with fresh model data.
func NewBlock(env Env, machine *Machine, id domain.Identity, schema domain.EntitySchema) *Block {
	b := &Block{
		env:      env,
		machine:  machine,
		identity: id,
		schema:   schema,
		current:  machine.root.children["empty"],
		md:       NewModelData(schema),
	}
	b.rels = newRelationshipCache(b)
	return b
}

// Identity returns the block's current identity.
func (b *Block) Identity() domain.Identity { return b.identity }

// Schema returns the entity descriptor the block was built from.
func (b *Block) Schema() domain.EntitySchema { return b.schema }

// CurrentState returns the current lifecycle state. Never nil.
func (b *Block) CurrentState() *State { return b.current }

// StatePath returns the dotted path of the current state.
func (b *Block) StatePath() string { return b.current.Path() }

// ModelData exposes the raw storage primitive, mainly for save snapshots.
func (b *Block) ModelData() domain.ModelData { return b.md }

// Facade returns the materialized facade, or nil.
func (b *Block) Facade() domain.Facade { return b.facade }

// Err returns the recorded error value, if the error flag is set.
func (b *Block) Err() (error, bool) { return b.err, b.isError }

// ValidationErrors returns field-scoped errors from the last rejected commit.
func (b *Block) ValidationErrors() *domain.ValidationError { return b.validationErrors }

// IsReloading reports whether a reload is in flight.
func (b *Block) IsReloading() bool { return b.isReloading }

// IsDestroyed reports whether the block has been torn down.
func (b *Block) IsDestroyed() bool { return b.isDestroyed }

// IsNew reports whether the record has never been persisted.
func (b *Block) IsNew() bool { return b.current.flags.New }

// IsDirty reports whether staged changes exist.
func (b *Block) IsDirty() bool { return b.current.flags.Dirty }

// Send dispatches a lifecycle event against the current state.
func (b *Block) Send(ev Event, ctx any) error {
	return b.machine.Send(b, ev, ctx)
}

func (b *Block) transitionTo(target string) error {
	return b.machine.TransitionTo(b, target)
}

// TransitionTo moves the block to the given target path. Exposed for the
// store's load/create orchestration; most transitions happen via Send.
func (b *Block) TransitionTo(target string) error {
	return b.transitionTo(target)
}

func (b *Block) setCurrentState(s *State) {
	prev := b.current.flags
	b.current = s
	if b.facade == nil {
		return
	}
	b.facade.SetStatePath(s.Path())
	b.facade.NotifyPropertyChange("currentState")
	next := s.flags
	for _, fl := range []struct {
		name     string
		old, new bool
	}{
		{"isEmpty", prev.Empty, next.Empty},
		{"isLoading", prev.Loading, next.Loading},
		{"isLoaded", prev.Loaded, next.Loaded},
		{"isDirty", prev.Dirty, next.Dirty},
		{"isNew", prev.New, next.New},
		{"isDeleted", prev.Deleted, next.Deleted},
		{"isSaving", prev.Saving, next.Saving},
		{"isValid", prev.Valid, next.Valid},
	} {
		if fl.old != fl.new {
			b.facade.NotifyPropertyChange(fl.name)
		}
	}
}

// queueAfterTransition defers fn until the in-progress transition completes.
// Hooks use this instead of re-entering TransitionTo for the same block.
func (b *Block) queueAfterTransition(fn func() error) {
	b.afterTransition = append(b.afterTransition, fn)
}

func (b *Block) runAfterTransition() error {
	for len(b.afterTransition) > 0 {
		fn := b.afterTransition[0]
		b.afterTransition = b.afterTransition[1:]
		if err := fn(); err != nil {
			b.afterTransition = nil
			return err
		}
	}
	b.afterTransition = nil
	return nil
}

// Materialize returns the facade for this block, creating it on first call by
// merging stored state with initial. Idempotent while a facade exists and the
// block is not dematerializing. Materializing cancels a pending scheduled
// destroy: the block is referenced again.
func (b *Block) Materialize(initial map[string]any) (domain.Facade, error) {
	if b.isDestroyed {
		return nil, domain.AlreadyDestroyedError{Identity: b.identity}
	}
	if b.facade != nil && !b.isDematerializing {
		return b.facade, nil
	}
	b.destroyScheduled = false

	f := b.env.CreateFacade(b.identity, b.schema)
	b.facade = f
	f.SetStatePath(b.current.Path())

	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := initial[key]
		switch {
		case key == "id":
			id, ok := value.(string)
			if !ok {
				return nil, domain.IdentityConflictError{Identity: b.identity, Attempted: "non-string id"}
			}
			if err := b.SetID(id); err != nil {
				return nil, err
			}
		default:
			if rel, ok := b.schema.Relationship(key); ok {
				if err := b.setInitialRelationship(rel, value); err != nil {
					return nil, err
				}
				continue
			}
			if err := b.SetDirtyAttribute(key, value); err != nil {
				return nil, err
			}
		}
	}

	b.flushTriggers()
	return f, nil
}

func (b *Block) setInitialRelationship(rel domain.Relationship, value any) error {
	switch rel.Kind {
	case domain.KindBelongsTo:
		if value == nil {
			return b.SetDirtyBelongsTo(rel.Name, nil)
		}
		target, ok := value.(*Block)
		if !ok {
			return domain.InvalidRelationshipValueError{Identity: b.identity, Key: rel.Name, Reason: "value is not a record"}
		}
		return b.SetDirtyBelongsTo(rel.Name, target)
	case domain.KindHasMany:
		targets, ok := value.([]*Block)
		if !ok {
			return domain.InvalidRelationshipValueError{Identity: b.identity, Key: rel.Name, Reason: "value is not an ordered record sequence"}
		}
		return b.SetDirtyHasMany(rel.Name, targets)
	}
	return domain.InvalidRelationshipValueError{Identity: b.identity, Key: rel.Name, Reason: "unknown relationship kind"}
}

// SetID assigns the external id. Allowed while the id is unset, unchanged, or
// the record has never been persisted; anything else is an identity-map
// violation.
func (b *Block) SetID(id string) error {
	if b.identity.ID == id {
		return nil
	}
	if b.identity.ID != "" && !b.current.flags.New {
		return domain.IdentityConflictError{Identity: b.identity, Attempted: id}
	}
	previous := b.identity
	b.identity.ID = id
	if err := b.env.UpdateID(b, previous); err != nil {
		b.identity = previous
		return err
	}
	b.notifyPropertyChange("id")
	return nil
}

// SetDirtyAttribute stages a local attribute change. Equal values are a
// no-op; mutation of a deleted record is rejected.
func (b *Block) SetDirtyAttribute(key string, value any) error {
	if b.current.flags.Deleted {
		return domain.DeletedRecordMutationError{Identity: b.identity, Key: key}
	}
	old, _ := b.md.Attribute(key)
	if reflect.DeepEqual(old, value) {
		return nil
	}
	wasDirty := b.md.HasDirtyAttributes()
	b.md.SetAttribute(key, value)
	return b.Send(EventDidSetProperty, PropertyChange{
		Key:      key,
		OldValue: old,
		Value:    value,
		WasDirty: wasDirty,
		IsDirty:  b.md.HasDirtyAttributes(),
	})
}

// SetDirtyBelongsTo stages a to-one relationship change; target may be nil.
func (b *Block) SetDirtyBelongsTo(key string, target *Block) error {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindBelongsTo {
		return domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-one relationship"}
	}
	if b.current.flags.Deleted {
		return domain.DeletedRecordMutationError{Identity: b.identity, Key: key}
	}
	var data domain.RelationshipData
	if target == nil {
		data = domain.ToOneData(nil)
	} else {
		id := target.Identity()
		data = domain.ToOneData(&id)
	}
	if existing, ok := b.md.Relationship(key); ok && existing.Equal(data) {
		return nil
	}
	b.md.SetRelationship(key, data)
	b.rels.relationshipDidChange(key)
	b.notifyPropertyChange(key)
	if !b.current.flags.Dirty {
		return b.Send(EventBecomeDirty, nil)
	}
	return nil
}

// SetDirtyHasMany stages a to-many relationship change. The value must be an
// ordered, finite sequence of live control-block references.
func (b *Block) SetDirtyHasMany(key string, targets []*Block) error {
	rel, ok := b.schema.Relationship(key)
	if !ok || rel.Kind != domain.KindHasMany {
		return domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "not a to-many relationship"}
	}
	if b.current.flags.Deleted {
		return domain.DeletedRecordMutationError{Identity: b.identity, Key: key}
	}
	if targets == nil {
		return domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "value is not an ordered record sequence"}
	}
	ids := make([]domain.Identity, len(targets))
	for i, t := range targets {
		if t == nil || t.isDestroyed {
			return domain.InvalidRelationshipValueError{Identity: b.identity, Key: key, Reason: "sequence contains a dead record reference"}
		}
		ids[i] = t.Identity()
	}
	data := domain.ToManyData(ids)
	if existing, ok := b.md.Relationship(key); ok && existing.Equal(data) {
		return nil
	}
	b.md.SetRelationship(key, data)
	b.rels.relationshipDidChange(key)
	b.notifyPropertyChange(key)
	if !b.current.flags.Dirty {
		return b.Send(EventBecomeDirty, nil)
	}
	return nil
}

// PushPayload merges an incoming canonical payload and dispatches the
// matching lifecycle event. Changed keys are surfaced after the transition
// settles.
func (b *Block) PushPayload(p domain.Payload) error {
	if b.isDestroyed {
		return domain.AlreadyDestroyedError{Identity: b.identity}
	}
	changed := b.md.PushData(p)
	ev := EventPushedData
	if b.current.flags.Loading {
		ev = EventLoadedData
	}
	if err := b.Send(ev, changed); err != nil {
		return err
	}
	if p.ID != "" && b.identity.ID == "" {
		if err := b.SetID(p.ID); err != nil {
			return err
		}
	}
	for _, key := range changed {
		b.propertyDidChange(key)
	}
	return nil
}

// RollbackAttributes discards staged changes, clears error state, and
// notifies the facade only of the keys actually reverted.
func (b *Block) RollbackAttributes() error {
	keys := b.md.RollbackAttributes()
	if b.isError {
		b.clearError()
	}
	if err := b.Send(EventRolledBack, keys); err != nil {
		return err
	}
	for _, key := range keys {
		b.propertyDidChange(key)
	}
	b.Trigger("rolledBack", nil)
	return nil
}

// Reload refetches the record from the adapter. The returned promise resolves
// with this block; failures are recorded on the block and re-raised through
// the promise.
func (b *Block) Reload() *Promise {
	p := newPromise(func() any { return b })
	b.isReloading = true
	b.notifyPropertyChange("isReloading")
	req := &reloadRequest{done: func(payload *domain.Payload, err error) {
		b.isReloading = false
		b.notifyPropertyChange("isReloading")
		defer b.env.RecordDidChange(b.identity)
		if err != nil {
			b.recordError(domain.CommitError{Identity: b.identity, Operation: "reload", Err: err})
			p.reject(b.err)
			return
		}
		b.clearError()
		if payload != nil {
			if perr := b.PushPayload(*payload); perr != nil {
				p.reject(perr)
				return
			}
		}
		p.resolve()
	}}
	if err := b.Send(EventReloadRecord, req); err != nil {
		b.isReloading = false
		b.notifyPropertyChange("isReloading")
		b.env.RecordDidChange(b.identity)
		p.reject(err)
	}
	return p
}

// DeleteRecord marks the record locally deleted; the deletion is persisted on
// the next save.
func (b *Block) DeleteRecord() error {
	return b.Send(EventDeleteRecord, nil)
}

// UnloadRecord discards the record's content, dematerializes the facade, and
// schedules an orphan-check/destroy at the next flush boundary unless one is
// already pending.
func (b *Block) UnloadRecord() error {
	if b.isDestroyed {
		return domain.AlreadyDestroyedError{Identity: b.identity}
	}
	if err := b.Send(EventUnloadRecord, nil); err != nil {
		return err
	}
	b.dematerialize()
	if !b.destroyScheduled {
		b.destroyScheduled = true
		b.env.ScheduleDestroy(b)
	}
	return nil
}

func (b *Block) dematerialize() {
	b.isDematerializing = true
	b.rels.dematerialize()
	if b.facade != nil {
		b.facade.Destroy()
		b.facade = nil
	}
	b.triggers = nil
	b.isDematerializing = false
}

// FinishScheduledDestroy runs the deferred orphan check at a flush boundary.
// The destroy is skipped when it was cancelled, the block was re-referenced,
// or a facade was re-materialized in the meantime.
func (b *Block) FinishScheduledDestroy() {
	if !b.destroyScheduled || b.isDestroyed {
		return
	}
	b.destroyScheduled = false
	if b.doNotDestroy || b.facade != nil {
		b.doNotDestroy = false
		return
	}
	b.destroy()
}

// DestroySync cancels any pending scheduled destroy, re-runs the orphan check
// immediately, and destroys the block synchronously. Used when the identity
// must be free before the next operation. Calling it on an already-destroyed
// block is a fatal contract violation.
func (b *Block) DestroySync() error {
	if b.isDestroyed {
		return domain.AlreadyDestroyedError{Identity: b.identity}
	}
	b.destroyScheduled = false
	if b.facade != nil {
		return domain.DestroyWhileMaterializedError{Identity: b.identity}
	}
	// An explicit synchronous destroy overrides the batched-path
	// re-reference guard.
	b.doNotDestroy = false
	b.destroy()
	return nil
}

func (b *Block) destroy() {
	if b.isDestroyed {
		return
	}
	b.isDestroying = true
	b.rels.destroy()
	b.isDestroying = false
	b.isDestroyed = true
	b.env.Evict(b)
}

// MarkReferenced flags the block so a pending scheduled destroy is skipped.
// The store calls this when the identity is resolved again before the flush
// boundary.
func (b *Block) MarkReferenced() error {
	if b.isDestroyed {
		return domain.AlreadyDestroyedError{Identity: b.identity}
	}
	if b.destroyScheduled {
		b.doNotDestroy = true
	}
	return nil
}

// AdapterWillCommit starts a save: staged changes move in flight and the
// block enters the matching inFlight state.
func (b *Block) AdapterWillCommit() error {
	return b.Send(EventWillCommit, nil)
}

// AdapterDidCommit confirms a save with the adapter's optional payload.
func (b *Block) AdapterDidCommit(payload *domain.Payload) error {
	if payload != nil && payload.ID != "" && b.identity.ID == "" {
		if err := b.SetID(payload.ID); err != nil {
			return err
		}
	}
	return b.Send(EventDidCommit, payload)
}

// AdapterCommitInvalid rejects a save with field-scoped validation errors.
func (b *Block) AdapterCommitInvalid(verr *domain.ValidationError) error {
	return b.Send(EventBecameInvalid, verr)
}

// AdapterCommitFailed rejects a save with a non-field error.
func (b *Block) AdapterCommitFailed(err error) error {
	return b.Send(EventBecameError, domain.CommitError{Identity: b.identity, Operation: "save", Err: err})
}

func (b *Block) recordError(err error) {
	b.err = err
	b.isError = true
	var verr *domain.ValidationError
	if v, ok := err.(*domain.ValidationError); ok {
		verr = v
	}
	b.validationErrors = verr
	b.notifyPropertyChange("isError")
}

func (b *Block) clearError() {
	if !b.isError && b.validationErrors == nil {
		return
	}
	b.err = nil
	b.isError = false
	b.validationErrors = nil
	b.notifyPropertyChange("isError")
}

// removeValidationErrorsFor drops field errors recorded against key and
// reports whether no errors remain.
func (b *Block) removeValidationErrorsFor(key string) bool {
	if b.validationErrors == nil {
		return true
	}
	kept := b.validationErrors.Errors[:0]
	for _, fe := range b.validationErrors.Errors {
		if fe.Field != key {
			kept = append(kept, fe)
		}
	}
	b.validationErrors.Errors = kept
	return len(kept) == 0
}

// notifyPropertyChange forwards a property notification to the facade when
// one exists.
func (b *Block) notifyPropertyChange(key string) {
	if b.facade != nil {
		b.facade.NotifyPropertyChange(key)
	}
}

// propertyDidChange handles a changed key: relationship keys additionally
// refresh and conservatively invalidate the relationship cache entry.
func (b *Block) propertyDidChange(key string) {
	if _, ok := b.schema.Relationship(key); ok {
		b.rels.relationshipDidChange(key)
	}
	b.notifyPropertyChange(key)
}
