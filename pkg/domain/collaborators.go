package domain

import "context"

// ModelData is the raw per-record attribute/relationship storage primitive.
// The record control block delegates all staged-dirty bookkeeping to it and
// never inspects its internal representation.
type ModelData interface {
	// PushData merges an incoming payload into canonical state and returns
	// the keys whose effective value changed (attributes and relationships).
	PushData(p Payload) []string
	// Attribute returns the effective (staged-over-canonical) value for key.
	Attribute(key string) (any, bool)
	// SetAttribute stages a local change. It reports false when the new value
	// equals the current effective value and nothing was staged.
	SetAttribute(key string, value any) bool
	// Relationship returns the effective structural value for key.
	Relationship(key string) (RelationshipData, bool)
	// SetRelationship stages a local relationship change.
	SetRelationship(key string, data RelationshipData)

	HasDirtyAttributes() bool
	// ChangedAttributes maps each dirty key to its [canonical, staged] pair.
	ChangedAttributes() map[string][2]any

	// WillCommit moves staged changes into the in-flight set.
	WillCommit()
	// DidCommit accepts the committed state. When payload is non-nil, only
	// attributes present in it are confirmed; in-flight attributes the server
	// did not echo stay dirty. Returns the keys whose dirtiness cleared.
	DidCommit(payload *Payload) []string
	// CommitWasRejected returns in-flight changes to the staged set.
	CommitWasRejected()
	// RollbackAttributes discards staged and in-flight changes and returns
	// the keys that were reverted.
	RollbackAttributes() []string

	// ClientDidCreate marks the record as locally created and applies
	// schema-declared attribute defaults.
	ClientDidCreate()
	// RemoveFromInverseRelationships clears this record from relationships
	// pointing back at it.
	RemoveFromInverseRelationships()
	// UnloadRecord drops all canonical and staged state.
	UnloadRecord()
}

// Facade is the user-visible record object lazily materialized over a control
// block. Its property-observation mechanics live outside this core; the block
// only pushes notifications through this surface.
type Facade interface {
	// NotifyPropertyChange signals that the named property (or meta property
	// such as "id", "isDirty", "currentState") may have changed.
	NotifyPropertyChange(key string)
	// SetStatePath informs the facade of the new lifecycle state path.
	SetStatePath(path string)
	// Trigger delivers a lifecycle event notification (didLoad, didCreate,
	// didUpdate, didDelete, becameInvalid, becameError, rolledBack).
	Trigger(event string, arg any)
	// Destroy tears the facade down; the control block drops its handle
	// afterwards.
	Destroy()
}

// FacadeFactory materializes a facade for a control block identity. Supplied
// by the facade/UI collaborator.
type FacadeFactory func(id Identity, schema EntitySchema) Facade

// SaveOp distinguishes the three persistence operations an adapter performs.
type SaveOp string

// Save operations handed to Adapter.SaveRecord.
const (
	SaveCreate SaveOp = "create"
	SaveUpdate SaveOp = "update"
	SaveDelete SaveOp = "delete"
)

// RecordSnapshot is the immutable view of a record handed to an adapter for a
// save operation.
type RecordSnapshot struct {
	Identity      Identity
	Attributes    map[string]any
	Relationships map[string]RelationshipData
}

// Adapter is the fetch/persistence collaborator. How data is actually fetched
// or stored is entirely its concern; the core only consumes these operations
// and never calls them outside a scheduler task.
type Adapter interface {
	FindRecord(ctx context.Context, schema EntitySchema, id Identity) (Payload, error)
	SaveRecord(ctx context.Context, schema EntitySchema, op SaveOp, snap RecordSnapshot) (*Payload, error)
	FindBelongsTo(ctx context.Context, schema EntitySchema, owner Identity, rel Relationship) (*Identity, error)
	FindHasMany(ctx context.Context, schema EntitySchema, owner Identity, rel Relationship) ([]Identity, error)
}

// MembershipTracker is notified whenever a record changes in a way that may
// require query-result membership re-evaluation. Collection tracking itself
// is outside this core.
type MembershipTracker interface {
	RecordDidChange(id Identity)
}
