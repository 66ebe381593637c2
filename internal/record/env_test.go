package record

import (
	"testing"

	"recordcore/pkg/domain"
)

// testFacade records everything the control block pushes at it.
type testFacade struct {
	statePath string
	changed   []string
	triggers  []string
	destroyed bool
}

func (f *testFacade) NotifyPropertyChange(key string) { f.changed = append(f.changed, key) }
func (f *testFacade) SetStatePath(path string)        { f.statePath = path }
func (f *testFacade) Trigger(event string, _ any)     { f.triggers = append(f.triggers, event) }
func (f *testFacade) Destroy()                        { f.destroyed = true }

type pendingFetch struct {
	rel      domain.Relationship
	oneDone  func(*domain.Identity, error)
	manyDone func([]domain.Identity, error)
}

type pendingReload struct {
	block *Block
	done  func(*domain.Payload, error)
}

// testEnv is a minimal in-process environment: a flat identity map, manual
// fetch completion, and recorded destroy scheduling.
type testEnv struct {
	t       *testing.T
	schemas map[string]domain.EntitySchema
	blocks  map[string]*Block

	fetches   []*pendingFetch
	reloads   []*pendingReload
	destroys  []*Block
	changedID []domain.Identity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	person := domain.EntitySchema{
		Name: "person",
		Attributes: map[string]domain.Attribute{
			"name": {Name: "name"},
		},
		Relationships: map[string]domain.Relationship{},
	}
	article := domain.EntitySchema{
		Name: "article",
		Attributes: map[string]domain.Attribute{
			"title":  {Name: "title"},
			"rating": {Name: "rating", Default: 0},
		},
		Relationships: map[string]domain.Relationship{
			"author":   {Name: "author", Kind: domain.KindBelongsTo, Type: "person"},
			"editor":   {Name: "editor", Kind: domain.KindBelongsTo, Type: "person", Async: true},
			"comments": {Name: "comments", Kind: domain.KindHasMany, Type: "comment", Async: true},
			"tags":     {Name: "tags", Kind: domain.KindHasMany, Type: "tag"},
		},
	}
	comment := domain.EntitySchema{
		Name:          "comment",
		Attributes:    map[string]domain.Attribute{"body": {Name: "body"}},
		Relationships: map[string]domain.Relationship{},
	}
	tag := domain.EntitySchema{
		Name:          "tag",
		Attributes:    map[string]domain.Attribute{"label": {Name: "label"}},
		Relationships: map[string]domain.Relationship{},
	}
	return &testEnv{
		t: t,
		schemas: map[string]domain.EntitySchema{
			"person": person, "article": article, "comment": comment, "tag": tag,
		},
		blocks: map[string]*Block{},
	}
}

func (e *testEnv) key(id domain.Identity) string { return id.Type + "/" + id.Key() }

func (e *testEnv) Schema(entity string) (domain.EntitySchema, bool) {
	s, ok := e.schemas[entity]
	return s, ok
}

func (e *testEnv) Peek(id domain.Identity) (*Block, bool) {
	if b, ok := e.blocks[e.key(id)]; ok {
		return b, true
	}
	if id.Lid != "" {
		if b, ok := e.blocks[id.Type+"/"+id.Lid]; ok {
			return b, true
		}
	}
	return nil, false
}

func (e *testEnv) CreateFacade(domain.Identity, domain.EntitySchema) domain.Facade {
	return &testFacade{}
}

func (e *testEnv) FetchBelongsTo(_ *Block, rel domain.Relationship, done func(*domain.Identity, error)) {
	e.fetches = append(e.fetches, &pendingFetch{rel: rel, oneDone: done})
}

func (e *testEnv) FetchHasMany(_ *Block, rel domain.Relationship, done func([]domain.Identity, error)) {
	e.fetches = append(e.fetches, &pendingFetch{rel: rel, manyDone: done})
}

func (e *testEnv) ReloadRecord(b *Block, done func(*domain.Payload, error)) {
	e.reloads = append(e.reloads, &pendingReload{block: b, done: done})
}

func (e *testEnv) RecordDidChange(id domain.Identity) {
	e.changedID = append(e.changedID, id)
}

func (e *testEnv) UpdateID(b *Block, previous domain.Identity) error {
	id := b.Identity()
	if existing, ok := e.blocks[e.key(id)]; ok && existing != b {
		return domain.IdentityConflictError{Identity: previous, Attempted: id.ID}
	}
	delete(e.blocks, e.key(previous))
	e.add(b)
	return nil
}

func (e *testEnv) ScheduleDestroy(b *Block) { e.destroys = append(e.destroys, b) }

func (e *testEnv) Evict(b *Block) { delete(e.blocks, e.key(b.Identity())) }

func (e *testEnv) add(b *Block) {
	e.blocks[e.key(b.Identity())] = b
	if lid := b.Identity().Lid; lid != "" {
		e.blocks[b.Identity().Type+"/"+lid] = b
	}
}

// newBlock builds a block registered in the env, still in root.empty.
func (e *testEnv) newBlock(m *Machine, entity, id, lid string) *Block {
	e.t.Helper()
	schema, ok := e.schemas[entity]
	if !ok {
		e.t.Fatalf("unknown entity %q", entity)
	}
	b := NewBlock(e, m, domain.Identity{Type: entity, ID: id, Lid: lid}, schema)
	e.add(b)
	return b
}

// loadedBlock builds a block and pushes a canonical payload so it lands in
// loaded.saved.
func (e *testEnv) loadedBlock(m *Machine, entity, id string, attrs map[string]any) *Block {
	e.t.Helper()
	b := e.newBlock(m, entity, id, "lid-"+entity+"-"+id)
	if err := b.PushPayload(domain.Payload{Type: entity, ID: id, Attributes: attrs}); err != nil {
		e.t.Fatalf("push payload: %v", err)
	}
	return b
}

// drainDestroys finishes all scheduled destroys, as the store's flush would.
func (e *testEnv) drainDestroys() {
	pending := e.destroys
	e.destroys = nil
	for _, b := range pending {
		b.FinishScheduledDestroy()
	}
}
