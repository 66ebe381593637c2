// Package store orchestrates record control blocks: it owns the identity
// map, the cooperative scheduler, and the save pipeline, and supplies the
// environment the record core runs in.
//
// A Store is single-threaded by contract. All methods, including Flush, must
// be called from one logical thread; the store never spawns goroutines.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"recordcore/internal/record"
	"recordcore/internal/validation"
	"recordcore/pkg/domain"
	"recordcore/pkg/log"
)

// Store is the owner of all record control blocks for one schema set.
type Store struct {
	ctx     context.Context
	schemas *domain.SchemaSet
	adapter domain.Adapter
	machine *record.Machine
	logger  log.Logger
	metrics MetricsRecorder
	tracker domain.MembershipTracker
	facades domain.FacadeFactory
	engine  *validation.Engine

	// blocks indexes by entity type, then by identity key (external id when
	// set, lid otherwise). byLid always indexes by lid.
	blocks map[string]map[string]*record.Block
	byLid  map[string]*record.Block
	finds  map[string]*record.Promise

	sched scheduler
}

// Option configures a Store.
type Option func(*Store)

// WithAdapter sets the fetch/persistence collaborator. Required.
func WithAdapter(a domain.Adapter) Option {
	return func(s *Store) { s.adapter = a }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithMembershipTracker sets the query-membership collaborator.
func WithMembershipTracker(t domain.MembershipTracker) Option {
	return func(s *Store) { s.tracker = t }
}

// WithFacadeFactory sets the facade materializer. Defaults to BasicFacade.
func WithFacadeFactory(f domain.FacadeFactory) Option {
	return func(s *Store) { s.facades = f }
}

// WithValidation sets the pre-save validation engine. Without one, saves go
// straight to the adapter.
func WithValidation(e *validation.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// WithMachineOptions forwards options to the lifecycle machine, e.g.
// record.WithoutChainCache for verification runs.
func WithMachineOptions(opts ...record.MachineOption) Option {
	return func(s *Store) { s.machine = record.NewMachine(opts...) }
}

// New builds a store over the schema set. An adapter is required.
func New(schemas *domain.SchemaSet, opts ...Option) (*Store, error) {
	if schemas == nil {
		return nil, fmt.Errorf("store: schema set is required")
	}
	s := &Store{
		ctx:     context.Background(),
		schemas: schemas,
		machine: record.NewMachine(),
		logger:  log.Nop(),
		metrics: noopMetricsRecorder{},
		facades: NewBasicFacade,
		blocks:  map[string]map[string]*record.Block{},
		byLid:   map[string]*record.Block{},
		finds:   map[string]*record.Promise{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.adapter == nil {
		return nil, fmt.Errorf("store: adapter is required")
	}
	return s, nil
}

// Machine exposes the lifecycle machine, mainly for cache statistics.
func (s *Store) Machine() *record.Machine { return s.machine }

// Flush drains the scheduler: queued adapter work runs to completion, then
// pending destroys finish. The store is quiescent when Flush returns.
func (s *Store) Flush() {
	ran := s.sched.flush()
	s.metrics.FlushObserved(ran)
}

// Peek resolves a loaded control block without creating one or triggering a
// fetch. A hit cancels any destroy scheduled for the block.
func (s *Store) Peek(id domain.Identity) (*record.Block, bool) {
	b, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	if err := b.MarkReferenced(); err != nil {
		return nil, false
	}
	return b, true
}

func (s *Store) lookup(id domain.Identity) (*record.Block, bool) {
	if id.Lid != "" {
		if b, ok := s.byLid[id.Lid]; ok {
			return b, true
		}
	}
	if id.ID != "" {
		if byKey, ok := s.blocks[id.Type]; ok {
			if b, ok := byKey[id.ID]; ok {
				return b, true
			}
		}
	}
	return nil, false
}

func (s *Store) index(b *record.Block) {
	id := b.Identity()
	byKey, ok := s.blocks[id.Type]
	if !ok {
		byKey = map[string]*record.Block{}
		s.blocks[id.Type] = byKey
	}
	byKey[id.Key()] = b
	if id.Lid != "" {
		s.byLid[id.Lid] = b
	}
}

// obtain resolves or creates the control block for an identity, assigning a
// fresh lid when the caller supplied none.
func (s *Store) obtain(id domain.Identity) (*record.Block, error) {
	if b, ok := s.Peek(id); ok {
		return b, nil
	}
	schema, ok := s.schemas.Entity(id.Type)
	if !ok {
		return nil, fmt.Errorf("store: unknown entity type %q", id.Type)
	}
	if id.Lid == "" {
		id.Lid = uuid.NewString()
	}
	b := record.NewBlock(s, s.machine, id, schema)
	s.index(b)
	return b, nil
}

// Push merges a canonical payload into the identity map, creating the control
// block when the identity is new. The block lands in loaded.saved.
func (s *Store) Push(p domain.Payload) (*record.Block, error) {
	if p.Type == "" {
		return nil, fmt.Errorf("store: payload without entity type")
	}
	if p.ID == "" && p.Lid == "" {
		return nil, fmt.Errorf("store: payload for %q carries neither id nor lid", p.Type)
	}
	b, err := s.obtain(domain.Identity{Type: p.Type, ID: p.ID, Lid: p.Lid})
	if err != nil {
		return nil, err
	}
	wasLoaded := b.CurrentState().Flags().Loaded
	if err := b.PushPayload(p); err != nil {
		return nil, err
	}
	if !wasLoaded {
		s.metrics.RecordLoaded(p.Type)
	}
	s.logger.Debug("payload pushed", "identity", b.Identity().String(), "state", b.StatePath())
	return b, nil
}

// FindRecord resolves a record by external id through a promise. A block
// already in a loaded state resolves immediately without a fetch; otherwise
// the fetch is scheduled and settles at the next flush boundary.
func (s *Store) FindRecord(ctx context.Context, entity, id string) (*record.Promise, error) {
	schema, ok := s.schemas.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("store: unknown entity type %q", entity)
	}
	if id == "" {
		return nil, fmt.Errorf("store: find for %q without an id", entity)
	}
	findKey := entity + "\x00" + id
	if inFlight, ok := s.finds[findKey]; ok {
		return inFlight, nil
	}
	b, err := s.obtain(domain.Identity{Type: entity, ID: id})
	if err != nil {
		return nil, err
	}
	p := record.NewPromise(func() any { return b })
	if b.CurrentState().Flags().Loaded {
		p.Resolve()
		return p, nil
	}
	if err := b.Send(record.EventLoadingData, nil); err != nil {
		return nil, err
	}
	s.finds[findKey] = p
	p.Done(func(any, error) { delete(s.finds, findKey) })
	s.sched.enqueue(func() {
		payload, err := s.adapter.FindRecord(ctx, schema, b.Identity())
		if err != nil {
			s.settleFailedLoad(b, p, err)
			return
		}
		if perr := b.PushPayload(payload); perr != nil {
			p.Reject(perr)
			return
		}
		s.metrics.RecordLoaded(entity)
		p.Resolve()
	})
	return p, nil
}

func (s *Store) settleFailedLoad(b *record.Block, p *record.Promise, err error) {
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		if serr := b.Send(record.EventNotFound, nil); serr != nil {
			s.logger.Error("not-found dispatch failed", "identity", b.Identity().String(), "error", serr)
		}
		p.Reject(domain.NotFoundError{Identity: b.Identity()})
		return
	}
	if serr := b.Send(record.EventBecameError, err); serr != nil {
		s.logger.Error("load-error dispatch failed", "identity", b.Identity().String(), "error", serr)
	}
	p.Reject(err)
}

// CreateRecord builds a new local record in loaded.created.uncommitted and
// materializes its facade with the initial properties. Schema defaults apply
// first; initial values then stage over them.
func (s *Store) CreateRecord(entity string, initial map[string]any) (*record.Block, error) {
	schema, ok := s.schemas.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("store: unknown entity type %q", entity)
	}
	id := domain.Identity{Type: entity, Lid: uuid.NewString()}
	b := record.NewBlock(s, s.machine, id, schema)
	s.index(b)
	b.ModelData().ClientDidCreate()
	if err := b.TransitionTo("loaded.created.uncommitted"); err != nil {
		return nil, err
	}
	if _, err := b.Materialize(initial); err != nil {
		return nil, err
	}
	s.metrics.RecordCreated(entity)
	s.logger.Debug("record created", "identity", b.Identity().String())
	return b, nil
}

// Save persists a block's staged changes through the adapter. Validation runs
// before the adapter sees the snapshot; an invalid snapshot rejects the save
// synchronously and moves the block to the matching invalid state. The
// adapter call itself is scheduled and settles at the next flush boundary.
func (s *Store) Save(ctx context.Context, b *record.Block) *record.Promise {
	p := record.NewPromise(func() any { return b })
	flags := b.CurrentState().Flags()
	if flags.Deleted && !flags.Dirty {
		// Discarded or already-persisted deletion; nothing to send.
		p.Resolve()
		return p
	}

	op := domain.SaveUpdate
	switch {
	case flags.Deleted:
		op = domain.SaveDelete
	case flags.New:
		op = domain.SaveCreate
	}
	schema := b.Schema()
	entity := schema.Name

	if err := b.AdapterWillCommit(); err != nil {
		p.Reject(err)
		return p
	}
	snap := s.snapshotOf(b)

	if s.engine != nil && op != domain.SaveDelete {
		if verr := s.engine.Validate(schema, snap); verr != nil {
			if serr := b.AdapterCommitInvalid(verr); serr != nil {
				p.Reject(serr)
				return p
			}
			s.metrics.SaveFailed(entity, "invalid")
			p.Reject(verr)
			return p
		}
	}

	s.sched.enqueue(func() {
		payload, err := s.adapter.SaveRecord(ctx, schema, op, snap)
		if err != nil {
			if serr := b.AdapterCommitFailed(err); serr != nil {
				s.logger.Error("commit-failed dispatch failed", "identity", b.Identity().String(), "error", serr)
			}
			s.metrics.SaveFailed(entity, "error")
			p.Reject(domain.CommitError{Identity: b.Identity(), Operation: string(op), Err: err})
			return
		}
		if serr := b.AdapterDidCommit(payload); serr != nil {
			p.Reject(serr)
			return
		}
		s.metrics.RecordSaved(entity, op)
		s.logger.Debug("record saved", "identity", b.Identity().String(), "op", string(op))
		p.Resolve()
	})
	return p
}

func (s *Store) snapshotOf(b *record.Block) domain.RecordSnapshot {
	schema := b.Schema()
	md := b.ModelData()
	snap := domain.RecordSnapshot{
		Identity:      b.Identity(),
		Attributes:    map[string]any{},
		Relationships: map[string]domain.RelationshipData{},
	}
	for name := range schema.Attributes {
		if v, ok := md.Attribute(name); ok {
			snap.Attributes[name] = v
		}
	}
	for name := range schema.Relationships {
		if d, ok := md.Relationship(name); ok && d.Defined() {
			snap.Relationships[name] = d
		}
	}
	return snap
}

// CancelDestroy keeps a block alive past a scheduled destroy. Calling it for
// a block that already finished destruction is a contract violation.
func (s *Store) CancelDestroy(b *record.Block) error {
	return b.MarkReferenced()
}

// Loaded returns all live control blocks for an entity type.
func (s *Store) Loaded(entity string) []*record.Block {
	byKey := s.blocks[entity]
	out := make([]*record.Block, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, b)
	}
	return out
}

// Schema implements record.Env.
func (s *Store) Schema(entity string) (domain.EntitySchema, bool) {
	return s.schemas.Entity(entity)
}

// CreateFacade implements record.Env.
func (s *Store) CreateFacade(id domain.Identity, schema domain.EntitySchema) domain.Facade {
	return s.facades(id, schema)
}

// FetchBelongsTo implements record.Env: the related identity is fetched, its
// record is loaded into the identity map when absent, and done runs inside
// the flush that completed the fetch.
func (s *Store) FetchBelongsTo(b *record.Block, rel domain.Relationship, done func(*domain.Identity, error)) {
	s.sched.enqueue(func() {
		id, err := s.adapter.FindBelongsTo(s.ctx, b.Schema(), b.Identity(), rel)
		if err != nil {
			done(nil, err)
			return
		}
		if id != nil {
			if err := s.ensureLoaded(*id); err != nil {
				done(nil, err)
				return
			}
		}
		done(id, nil)
	})
}

// FetchHasMany implements record.Env.
func (s *Store) FetchHasMany(b *record.Block, rel domain.Relationship, done func([]domain.Identity, error)) {
	s.sched.enqueue(func() {
		ids, err := s.adapter.FindHasMany(s.ctx, b.Schema(), b.Identity(), rel)
		if err != nil {
			done(nil, err)
			return
		}
		for _, id := range ids {
			if err := s.ensureLoaded(id); err != nil {
				done(nil, err)
				return
			}
		}
		done(ids, nil)
	})
}

// ensureLoaded resolves an identity into a loaded block, fetching its payload
// when the record is not in the identity map yet.
func (s *Store) ensureLoaded(id domain.Identity) error {
	if b, ok := s.Peek(id); ok && b.CurrentState().Flags().Loaded {
		return nil
	}
	schema, ok := s.schemas.Entity(id.Type)
	if !ok {
		return fmt.Errorf("store: unknown entity type %q", id.Type)
	}
	payload, err := s.adapter.FindRecord(s.ctx, schema, id)
	if err != nil {
		return err
	}
	if _, err := s.Push(payload); err != nil {
		return err
	}
	return nil
}

// ReloadRecord implements record.Env.
func (s *Store) ReloadRecord(b *record.Block, done func(*domain.Payload, error)) {
	s.sched.enqueue(func() {
		payload, err := s.adapter.FindRecord(s.ctx, b.Schema(), b.Identity())
		if err != nil {
			done(nil, err)
			return
		}
		done(&payload, nil)
	})
}

// RecordDidChange implements record.Env.
func (s *Store) RecordDidChange(id domain.Identity) {
	if s.tracker != nil {
		s.tracker.RecordDidChange(id)
	}
}

// UpdateID implements record.Env: it reindexes a block after an id
// assignment and rejects an id already owned by a different block.
func (s *Store) UpdateID(b *record.Block, previous domain.Identity) error {
	id := b.Identity()
	if existing, ok := s.blocks[id.Type][id.ID]; ok && existing != b {
		return domain.IdentityConflictError{Identity: previous, Attempted: id.ID}
	}
	if byKey, ok := s.blocks[previous.Type]; ok {
		delete(byKey, previous.Key())
	}
	s.index(b)
	return nil
}

// ScheduleDestroy implements record.Env.
func (s *Store) ScheduleDestroy(b *record.Block) {
	s.sched.enqueueDestroy(b)
}

// Evict implements record.Env: the destroyed block leaves the identity map.
func (s *Store) Evict(b *record.Block) {
	id := b.Identity()
	if byKey, ok := s.blocks[id.Type]; ok {
		delete(byKey, id.Key())
		if len(byKey) == 0 {
			delete(s.blocks, id.Type)
		}
	}
	if id.Lid != "" {
		delete(s.byLid, id.Lid)
	}
	s.metrics.RecordDestroyed(id.Type)
	s.logger.Debug("record destroyed", "identity", id.String())
}
