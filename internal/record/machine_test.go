package record

import (
	"errors"
	"testing"

	"recordcore/pkg/domain"
)

func TestStateAtResolvesDottedPaths(t *testing.T) {
	m := NewMachine()
	for _, path := range []string{
		"empty",
		"loading",
		"loaded.saved",
		"loaded.created.uncommitted",
		"loaded.created.inFlight",
		"loaded.created.invalid",
		"loaded.updated.uncommitted",
		"loaded.updated.inFlight",
		"loaded.updated.invalid",
		"deleted.uncommitted",
		"deleted.inFlight",
		"deleted.saved",
		"deleted.invalid",
	} {
		s, ok := m.StateAt(path)
		if !ok {
			t.Fatalf("state %q missing from graph", path)
		}
		if got := s.Path(); got != "root."+path {
			t.Fatalf("state %q has path %q", path, got)
		}
	}
	if _, ok := m.StateAt("loaded.nonexistent"); ok {
		t.Fatal("bogus path must not resolve")
	}
}

func TestNewBlockStartsEmpty(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()
	b := env.newBlock(m, "article", "", "lid-1")
	if got := b.StatePath(); got != "root.empty" {
		t.Fatalf("new block in %q", got)
	}
	flags := b.CurrentState().Flags()
	if !flags.Empty || !flags.Valid || flags.Loaded {
		t.Fatalf("unexpected empty flags: %+v", flags)
	}
}

func TestUnhandledEventIsContractViolation(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()
	b := env.newBlock(m, "article", "", "lid-1")

	err := b.Send(EventWillCommit, nil)
	if err == nil {
		t.Fatal("willCommit in root.empty must fail")
	}
	var ue domain.UnhandledEventError
	if !errors.As(err, &ue) {
		t.Fatalf("want UnhandledEventError, got %T: %v", err, err)
	}
	if ue.State != "root.empty" || ue.Event != string(EventWillCommit) {
		t.Fatalf("error carries wrong coordinates: %+v", ue)
	}
	if !domain.IsContractViolation(err) {
		t.Fatal("unhandled event must be a contract violation")
	}
}

func TestNearestAncestorHandlerWins(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()
	b := env.loadedBlock(m, "article", "a1", map[string]any{"title": "x"})

	// deleteRecord is handled on loaded, not on saved: dispatch from the
	// leaf must climb to the ancestor.
	if err := b.Send(EventDeleteRecord, nil); err != nil {
		t.Fatalf("deleteRecord: %v", err)
	}
	if got := b.StatePath(); got != "root.deleted.uncommitted" {
		t.Fatalf("after deleteRecord in %q", got)
	}
}

func TestInvalidTransitionTarget(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()
	b := env.newBlock(m, "article", "", "lid-1")

	err := b.TransitionTo("nonexistent.state")
	var it InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if !domain.IsContractViolation(err) {
		t.Fatal("invalid transition must be a contract violation")
	}
}

func TestChainCacheCountsHitsAndMisses(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()

	b1 := env.loadedBlock(m, "article", "a1", nil)
	b2 := env.loadedBlock(m, "article", "a2", nil)
	_ = b1
	_ = b2

	hits, misses, entries := m.CacheStats()
	if misses == 0 || entries == 0 {
		t.Fatalf("expected misses and resident entries after first transitions, got hits=%d misses=%d entries=%d", hits, misses, entries)
	}
	// The second block repeated the empty -> loaded.saved walk.
	if hits == 0 {
		t.Fatalf("expected at least one hit from the repeated walk, got hits=%d", hits)
	}
}

// The memo cache must be invisible: the same event script produces the same
// state paths with and without it.
func TestChainCacheDisabledIsEquivalent(t *testing.T) {
	type step struct {
		ev  Event
		ctx any
	}
	script := []step{
		{EventPushedData, []string{}},
		{EventBecomeDirty, nil},
		{EventWillCommit, nil},
		{EventDidCommit, (*domain.Payload)(nil)},
		{EventBecomeDirty, nil},
		{EventRolledBack, []string{}},
		{EventDeleteRecord, nil},
		{EventWillCommit, nil},
		{EventDidCommit, (*domain.Payload)(nil)},
	}

	runScript := func(m *Machine) []string {
		env := newTestEnv(t)
		b := env.loadedBlock(m, "article", "a1", map[string]any{"title": "x"})
		paths := []string{b.StatePath()}
		for _, st := range script {
			if err := b.Send(st.ev, st.ctx); err != nil {
				t.Fatalf("event %s: %v", st.ev, err)
			}
			paths = append(paths, b.StatePath())
		}
		return paths
	}

	cached := runScript(NewMachine())
	uncached := runScript(NewMachine(WithoutChainCache()))
	if len(cached) != len(uncached) {
		t.Fatalf("path traces differ in length: %d vs %d", len(cached), len(uncached))
	}
	for i := range cached {
		if cached[i] != uncached[i] {
			t.Fatalf("step %d diverged: cached %q, uncached %q", i, cached[i], uncached[i])
		}
	}
	if _, _, entries := NewMachine(WithoutChainCache()).CacheStats(); entries != 0 {
		t.Fatal("disabled cache must hold no entries")
	}
}

func TestTransitionNotifiesMembershipTracker(t *testing.T) {
	env := newTestEnv(t)
	m := NewMachine()
	b := env.loadedBlock(m, "article", "a1", nil)

	before := len(env.changedID)
	if err := b.Send(EventDeleteRecord, nil); err != nil {
		t.Fatalf("deleteRecord: %v", err)
	}
	if len(env.changedID) <= before {
		t.Fatal("transition must notify RecordDidChange")
	}
	last := env.changedID[len(env.changedID)-1]
	if last != b.Identity() {
		t.Fatalf("notified wrong identity %v", last)
	}
}
