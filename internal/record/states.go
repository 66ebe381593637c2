package record

import (
	"recordcore/pkg/domain"
)

// buildGraph constructs the record lifecycle tree:
//
//	root
//	├── empty
//	├── loading
//	├── loaded
//	│   ├── saved
//	│   ├── created
//	│   │   ├── uncommitted
//	│   │   ├── inFlight
//	│   │   └── invalid
//	│   └── updated
//	│       ├── uncommitted
//	│       ├── inFlight
//	│       └── invalid
//	└── deleted
//	    ├── uncommitted
//	    ├── inFlight
//	    ├── saved
//	    └── invalid
//
// Event coverage: didSetProperty and unloadRecord are handled at the root and
// therefore everywhere. pushedData is handled in empty, loading, and loaded;
// it is deliberately unhandled (fatal UnhandledEvent) in deleted states —
// payload pushes for a deleted record indicate a store-layer defect.
// becomeDirty, willCommit, didCommit, becameInvalid, becameError, rolledBack,
// and deleteRecord are handled in every loaded and deleted substate where the
// operation is meaningful; dispatching them in empty or loading is a contract
// violation surfaced as UnhandledEvent.
func buildGraph() *State {
	root := newState("root", StateFlags{Valid: true})
	root.handlers[EventDidSetProperty] = handleDidSetProperty
	root.handlers[EventUnloadRecord] = func(b *Block, _ any) error {
		b.md.UnloadRecord()
		return b.transitionTo("empty")
	}

	empty := root.attach(newState("empty", StateFlags{Empty: true, Valid: true}))
	empty.handlers[EventLoadingData] = func(b *Block, _ any) error {
		return b.transitionTo("loading")
	}
	empty.handlers[EventLoadedData] = loadedFromServer
	empty.handlers[EventPushedData] = loadedFromServer

	loading := root.attach(newState("loading", StateFlags{Loading: true, Valid: true}))
	loading.handlers[EventLoadedData] = func(b *Block, ctx any) error {
		if err := loadedFromServer(b, ctx); err != nil {
			return err
		}
		b.Trigger("didLoad", nil)
		return nil
	}
	loading.handlers[EventPushedData] = loadedFromServer
	loading.handlers[EventNotFound] = func(b *Block, _ any) error {
		return b.transitionTo("empty")
	}
	loading.handlers[EventBecameError] = func(b *Block, ctx any) error {
		if err, ok := ctx.(error); ok {
			b.recordError(err)
		}
		if err := b.transitionTo("empty"); err != nil {
			return err
		}
		b.Trigger("becameError", b.err)
		return nil
	}

	loaded := root.attach(newState("loaded", StateFlags{Loaded: true, Valid: true}))
	// Leaving the loaded subtree tears down async relationship proxies; their
	// content would otherwise go stale against a deleted or emptied record.
	loaded.exit = func(b *Block) { b.rels.clearPromises() }
	loaded.handlers[EventPushedData] = func(*Block, any) error {
		// Content was merged by PushPayload before dispatch.
		return nil
	}
	loaded.handlers[EventDeleteRecord] = func(b *Block, _ any) error {
		return b.transitionTo("deleted.uncommitted")
	}
	loaded.handlers[EventReloadRecord] = func(b *Block, ctx any) error {
		req, ok := ctx.(*reloadRequest)
		if !ok {
			return domain.UnhandledEventError{State: b.current.Path(), Event: string(EventReloadRecord), Context: ctx}
		}
		b.env.ReloadRecord(b, req.done)
		return nil
	}

	saved := loaded.attach(newState("saved", StateFlags{Loaded: true, Valid: true}))
	// A payload merge can leave staged attributes behind; surface the dirty
	// transition once the outer transition has settled.
	saved.setup = func(b *Block) {
		if b.md.HasDirtyAttributes() {
			b.queueAfterTransition(func() error {
				return b.machine.Send(b, EventBecomeDirty, nil)
			})
		}
	}
	saved.handlers[EventBecomeDirty] = func(b *Block, _ any) error {
		return b.transitionTo("loaded.updated.uncommitted")
	}
	saved.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.md.WillCommit()
		return b.transitionTo("loaded.updated.inFlight")
	}
	saved.handlers[EventDidCommit] = func(b *Block, _ any) error {
		// Relationship-only commits confirm with no attribute delta.
		b.Trigger("didCommit", nil)
		return nil
	}
	saved.handlers[EventNotFound] = func(*Block, any) error { return nil }
	saved.handlers[EventRolledBack] = func(*Block, any) error { return nil }

	created := loaded.attach(newState("created", StateFlags{Loaded: true, Dirty: true, New: true, Valid: true}))
	createdUncommitted := created.attach(newState("uncommitted", StateFlags{Loaded: true, Dirty: true, New: true, Valid: true}))
	createdUncommitted.handlers[EventBecomeDirty] = noopHandler
	createdUncommitted.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.md.WillCommit()
		return b.transitionTo("loaded.created.inFlight")
	}
	createdUncommitted.handlers[EventPushedData] = loadedFromServer
	createdUncommitted.handlers[EventDeleteRecord] = discardNewRecord
	createdUncommitted.handlers[EventRolledBack] = discardNewRecord

	createdInFlight := created.attach(newState("inFlight", StateFlags{Loaded: true, Dirty: true, New: true, Saving: true, Valid: true}))
	createdInFlight.handlers[EventDidCommit] = func(b *Block, ctx any) error {
		return commitConfirmed(b, ctx, "didCreate")
	}
	createdInFlight.handlers[EventBecameInvalid] = func(b *Block, ctx any) error {
		return commitRejectedInvalid(b, ctx, "loaded.created.invalid")
	}
	createdInFlight.handlers[EventBecameError] = func(b *Block, ctx any) error {
		return commitRejectedError(b, ctx, "loaded.created.uncommitted")
	}

	createdInvalid := created.attach(newState("invalid", StateFlags{Loaded: true, Dirty: true, New: true}))
	createdInvalid.handlers[EventDidSetProperty] = invalidDidSetProperty
	createdInvalid.handlers[EventBecameValid] = func(b *Block, _ any) error {
		b.clearError()
		return b.transitionTo("loaded.created.uncommitted")
	}
	createdInvalid.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.clearError()
		b.md.WillCommit()
		return b.transitionTo("loaded.created.inFlight")
	}
	createdInvalid.handlers[EventRolledBack] = discardNewRecord
	createdInvalid.handlers[EventDeleteRecord] = discardNewRecord

	updated := loaded.attach(newState("updated", StateFlags{Loaded: true, Dirty: true, Valid: true}))
	updatedUncommitted := updated.attach(newState("uncommitted", StateFlags{Loaded: true, Dirty: true, Valid: true}))
	updatedUncommitted.handlers[EventBecomeDirty] = noopHandler
	updatedUncommitted.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.md.WillCommit()
		return b.transitionTo("loaded.updated.inFlight")
	}
	updatedUncommitted.handlers[EventRolledBack] = func(b *Block, _ any) error {
		return b.transitionTo("loaded.saved")
	}

	updatedInFlight := updated.attach(newState("inFlight", StateFlags{Loaded: true, Dirty: true, Saving: true, Valid: true}))
	updatedInFlight.handlers[EventDidCommit] = func(b *Block, ctx any) error {
		return commitConfirmed(b, ctx, "didUpdate")
	}
	updatedInFlight.handlers[EventBecameInvalid] = func(b *Block, ctx any) error {
		return commitRejectedInvalid(b, ctx, "loaded.updated.invalid")
	}
	updatedInFlight.handlers[EventBecameError] = func(b *Block, ctx any) error {
		return commitRejectedError(b, ctx, "loaded.updated.uncommitted")
	}

	updatedInvalid := updated.attach(newState("invalid", StateFlags{Loaded: true, Dirty: true}))
	updatedInvalid.handlers[EventDidSetProperty] = invalidDidSetProperty
	updatedInvalid.handlers[EventBecameValid] = func(b *Block, _ any) error {
		b.clearError()
		return b.transitionTo("loaded.updated.uncommitted")
	}
	updatedInvalid.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.clearError()
		b.md.WillCommit()
		return b.transitionTo("loaded.updated.inFlight")
	}
	updatedInvalid.handlers[EventRolledBack] = func(b *Block, _ any) error {
		b.clearError()
		return b.transitionTo("loaded.saved")
	}

	deleted := root.attach(newState("deleted", StateFlags{Loaded: true, Dirty: true, Deleted: true, Valid: true}))
	deletedUncommitted := deleted.attach(newState("uncommitted", StateFlags{Loaded: true, Dirty: true, Deleted: true, Valid: true}))
	deletedUncommitted.handlers[EventBecomeDirty] = noopHandler
	deletedUncommitted.handlers[EventWillCommit] = func(b *Block, _ any) error {
		b.md.WillCommit()
		return b.transitionTo("deleted.inFlight")
	}
	deletedUncommitted.handlers[EventRolledBack] = func(b *Block, _ any) error {
		return b.transitionTo("loaded.saved")
	}

	deletedInFlight := deleted.attach(newState("inFlight", StateFlags{Loaded: true, Dirty: true, Deleted: true, Saving: true, Valid: true}))
	deletedInFlight.handlers[EventDidCommit] = func(b *Block, ctx any) error {
		var payload *domain.Payload
		if p, ok := ctx.(*domain.Payload); ok {
			payload = p
		}
		b.md.DidCommit(payload)
		if err := b.transitionTo("deleted.saved"); err != nil {
			return err
		}
		b.Trigger("didCommit", nil)
		b.Trigger("didDelete", nil)
		return nil
	}
	deletedInFlight.handlers[EventBecameInvalid] = func(b *Block, ctx any) error {
		return commitRejectedInvalid(b, ctx, "deleted.invalid")
	}
	deletedInFlight.handlers[EventBecameError] = func(b *Block, ctx any) error {
		return commitRejectedError(b, ctx, "deleted.uncommitted")
	}

	deletedSaved := deleted.attach(newState("saved", StateFlags{Loaded: true, Deleted: true, Valid: true}))
	deletedSaved.setup = func(b *Block) { b.md.RemoveFromInverseRelationships() }
	deletedSaved.handlers[EventWillCommit] = noopHandler
	deletedSaved.handlers[EventDidCommit] = noopHandler
	deletedSaved.handlers[EventRolledBack] = noopHandler

	deletedInvalid := deleted.attach(newState("invalid", StateFlags{Loaded: true, Dirty: true, Deleted: true}))
	deletedInvalid.handlers[EventDidSetProperty] = invalidDidSetProperty
	deletedInvalid.handlers[EventBecameValid] = func(b *Block, _ any) error {
		b.clearError()
		return b.transitionTo("deleted.uncommitted")
	}
	deletedInvalid.handlers[EventRolledBack] = func(b *Block, _ any) error {
		b.clearError()
		return b.transitionTo("loaded.saved")
	}

	return root
}

func noopHandler(*Block, any) error { return nil }

// loadedFromServer lands canonical content in loaded.saved.
func loadedFromServer(b *Block, _ any) error {
	return b.transitionTo("loaded.saved")
}

// handleDidSetProperty is the root handler for staged attribute changes: it
// surfaces the property to the facade and promotes the block into a dirty
// state when the change made it dirty.
func handleDidSetProperty(b *Block, ctx any) error {
	pc, ok := ctx.(PropertyChange)
	if !ok {
		return domain.UnhandledEventError{State: b.current.Path(), Event: string(EventDidSetProperty), Context: ctx}
	}
	b.propertyDidChange(pc.Key)
	if pc.IsDirty && !b.current.flags.Dirty {
		return b.machine.Send(b, EventBecomeDirty, nil)
	}
	return nil
}

// invalidDidSetProperty additionally clears field errors for the edited key
// and leaves the invalid state once no errors remain.
func invalidDidSetProperty(b *Block, ctx any) error {
	pc, ok := ctx.(PropertyChange)
	if !ok {
		return domain.UnhandledEventError{State: b.current.Path(), Event: string(EventDidSetProperty), Context: ctx}
	}
	b.propertyDidChange(pc.Key)
	if b.removeValidationErrorsFor(pc.Key) {
		return b.machine.Send(b, EventBecameValid, nil)
	}
	return nil
}

// discardNewRecord retires a never-persisted record: it is removed from
// inverse relationships by the deleted.saved setup hook and never reaches the
// adapter.
func discardNewRecord(b *Block, _ any) error {
	if err := b.transitionTo("deleted.saved"); err != nil {
		return err
	}
	b.Trigger("didDelete", nil)
	return nil
}

// commitConfirmed accepts a successful save: canonical state is confirmed,
// cleared keys are surfaced, and the block returns to loaded.saved. The
// loaded.saved setup hook re-dirties the block when the server payload did
// not confirm every in-flight attribute.
func commitConfirmed(b *Block, ctx any, trigger string) error {
	var payload *domain.Payload
	if p, ok := ctx.(*domain.Payload); ok {
		payload = p
	}
	cleared := b.md.DidCommit(payload)
	if err := b.transitionTo("loaded.saved"); err != nil {
		return err
	}
	for _, key := range cleared {
		b.propertyDidChange(key)
	}
	b.Trigger("didCommit", nil)
	b.Trigger(trigger, nil)
	return nil
}

func commitRejectedInvalid(b *Block, ctx any, target string) error {
	verr, ok := ctx.(*domain.ValidationError)
	if !ok {
		return domain.UnhandledEventError{State: b.current.Path(), Event: string(EventBecameInvalid), Context: ctx}
	}
	b.md.CommitWasRejected()
	b.recordError(verr)
	if err := b.transitionTo(target); err != nil {
		return err
	}
	b.Trigger("becameInvalid", verr)
	return nil
}

func commitRejectedError(b *Block, ctx any, target string) error {
	err, ok := ctx.(error)
	if !ok {
		return domain.UnhandledEventError{State: b.current.Path(), Event: string(EventBecameError), Context: ctx}
	}
	b.md.CommitWasRejected()
	b.recordError(err)
	if terr := b.transitionTo(target); terr != nil {
		return terr
	}
	b.Trigger("becameError", err)
	return nil
}
