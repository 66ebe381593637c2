// Package record implements the client-side record-control core: one control
// block per record identity, driven through a hierarchical lifecycle state
// machine, with relationship materialization caches and deferred teardown.
//
// Everything in this package assumes a single logical thread of control. No
// method takes a lock; the owning store serializes all access.
package record

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"recordcore/pkg/domain"
)

// Event names a lifecycle event dispatched to a control block.
type Event string

// Lifecycle events understood by the state graph.
const (
	EventLoadingData    Event = "loadingData"
	EventLoadedData     Event = "loadedData"
	EventPushedData     Event = "pushedData"
	EventDidSetProperty Event = "didSetProperty"
	EventBecomeDirty    Event = "becomeDirty"
	EventWillCommit     Event = "willCommit"
	EventDidCommit      Event = "didCommit"
	EventBecameInvalid  Event = "becameInvalid"
	EventBecameError    Event = "becameError"
	EventBecameValid    Event = "becameValid"
	EventRolledBack     Event = "rolledBack"
	EventDeleteRecord   Event = "deleteRecord"
	EventUnloadRecord   Event = "unloadRecord"
	EventNotFound       Event = "notFound"
	EventReloadRecord   Event = "reloadRecord"
)

// StateFlags are the facade-visible properties derived from a lifecycle state.
type StateFlags struct {
	Empty   bool
	Loading bool
	Loaded  bool
	Dirty   bool
	New     bool
	Deleted bool
	Saving  bool
	Valid   bool
}

// Hook runs on state entry, exit, or setup. Hooks must not start a new
// transition for the same block; follow-up work is queued through
// (*Block).queueAfterTransition and runs once the outer transition completes.
type Hook func(b *Block)

// Handler processes one event dispatched to a block. Handlers may call
// transitionTo.
type Handler func(b *Block, ctx any) error

// State is a node in the static lifecycle tree. States are immutable for the
// process lifetime once the graph is built.
type State struct {
	name     string
	parent   *State
	children map[string]*State
	enter    Hook
	exit     Hook
	setup    Hook
	handlers map[Event]Handler
	flags    StateFlags
	path     string // cached dotted path, root-prefixed
}

// Path returns the dotted path of the state, e.g. "root.loaded.saved".
func (s *State) Path() string { return s.path }

// Name returns the state's own segment name.
func (s *State) Name() string { return s.name }

// Flags returns the facade-visible flags of the state.
func (s *State) Flags() StateFlags { return s.flags }

// attach wires child under s and returns the child for further attachment.
// The graph is built top-down, so paths are final at attach time.
func (s *State) attach(child *State) *State {
	child.parent = s
	child.path = s.path + "." + child.name
	s.children[child.name] = child
	return child
}

func newState(name string, flags StateFlags) *State {
	return &State{
		name:     name,
		children: map[string]*State{},
		handlers: map[Event]Handler{},
		flags:    flags,
		path:     name,
	}
}

// InvalidTransitionError reports a transition target no ancestor of the
// current state can resolve. It indicates a defect in the state graph or in a
// handler, never a recoverable condition.
type InvalidTransitionError struct {
	From   string
	Target string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("no ancestor of state %s owns transition target %q", e.From, e.Target)
}

// ContractViolation marks the error as unrecoverable.
func (InvalidTransitionError) ContractViolation() {}

// ReentrantTransitionError reports a transition started while another
// transition for the same block is still in progress.
type ReentrantTransitionError struct {
	Identity domain.Identity
	Target   string
}

func (e ReentrantTransitionError) Error() string {
	return fmt.Sprintf("re-entrant transition to %q on %s", e.Target, e.Identity)
}

// ContractViolation marks the error as unrecoverable.
func (ReentrantTransitionError) ContractViolation() {}

type chainKey struct {
	from   string
	target string
}

// transitionChain is the memoized walk for one (currentStatePath, targetPath)
// pair: the enter and setup hooks to run root-to-leaf and the terminal state.
// Exit hooks are excluded; they depend only on the walk up and run before the
// chain applies.
type transitionChain struct {
	enters   []*State
	setups   []*State
	terminal *State
}

// Machine drives a static lifecycle state tree. One machine instance is
// shared by every control block of a store; per-block state lives on the
// block itself.
type Machine struct {
	root   *State
	chains *lru.Cache[chainKey, *transitionChain]
	hits   uint64
	misses uint64
}

// chainCacheSize bounds the memo table. The state graph is finite, so the
// bound exists only to satisfy the LRU constructor; eviction is not expected.
const chainCacheSize = 512

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithoutChainCache disables transition-chain memoization. Observable
// behavior must not change; the option exists for verification and
// benchmarking.
func WithoutChainCache() MachineOption {
	return func(m *Machine) { m.chains = nil }
}

// NewMachine builds a machine over the record lifecycle graph.
func NewMachine(opts ...MachineOption) *Machine {
	cache, err := lru.New[chainKey, *transitionChain](chainCacheSize)
	if err != nil {
		panic(err) // only on non-positive size
	}
	m := &Machine{root: buildGraph(), chains: cache}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the root state of the lifecycle graph.
func (m *Machine) Root() *State { return m.root }

// StateAt resolves a state by target path relative to root ("loaded.saved").
func (m *Machine) StateAt(path string) (*State, bool) {
	state := m.root
	for _, seg := range strings.Split(path, ".") {
		next, ok := state.children[seg]
		if !ok {
			return nil, false
		}
		state = next
	}
	return state, true
}

// CacheStats reports chain-cache hits, misses, and resident entries.
func (m *Machine) CacheStats() (hits, misses uint64, entries int) {
	if m.chains == nil {
		return m.hits, m.misses, 0
	}
	return m.hits, m.misses, m.chains.Len()
}

// Send dispatches an event against the block's current state. The nearest
// handler on the ancestor chain wins. A missing handler is a fatal contract
// violation carrying the state, event, and context.
func (m *Machine) Send(b *Block, ev Event, ctx any) error {
	for s := b.current; s != nil; s = s.parent {
		if h, ok := s.handlers[ev]; ok {
			return h(b, ctx)
		}
	}
	return domain.UnhandledEventError{State: b.current.Path(), Event: string(ev), Context: ctx}
}

// TransitionTo moves the block to the state addressed by target (a dotted
// path relative to root, e.g. "loaded.updated.uncommitted").
//
// The walk exits upward from the current state until an ancestor owns the
// pivot segment, then descends along the target collecting enter and setup
// hooks in root-to-leaf order. Enter hooks run, the current state is swapped
// (propagating to a materialized facade), setup hooks run, and finally the
// membership tracker is notified.
func (m *Machine) TransitionTo(b *Block, target string) error {
	if b.inTransition {
		return ReentrantTransitionError{Identity: b.identity, Target: target}
	}
	b.inTransition = true
	defer func() { b.inTransition = false }()

	pivot := target
	if i := strings.IndexByte(target, '.'); i >= 0 {
		pivot = target[:i]
	}
	key := chainKey{from: b.current.Path(), target: target}

	// Exit upward until an ancestor owns the pivot. Exits are side-effectful
	// and always replayed; only the descent below is memoized.
	ancestor := b.current
	for {
		if _, ok := ancestor.children[pivot]; ok {
			break
		}
		if ancestor.exit != nil {
			ancestor.exit(b)
		}
		ancestor = ancestor.parent
		if ancestor == nil {
			return InvalidTransitionError{From: b.current.Path(), Target: target}
		}
	}

	chain, err := m.chainFor(key, ancestor, target)
	if err != nil {
		return err
	}

	for _, s := range chain.enters {
		s.enter(b)
	}
	b.setCurrentState(chain.terminal)
	for _, s := range chain.setups {
		s.setup(b)
	}
	b.env.RecordDidChange(b.identity)

	return b.runAfterTransition()
}

func (m *Machine) chainFor(key chainKey, ancestor *State, target string) (*transitionChain, error) {
	if m.chains != nil {
		if chain, ok := m.chains.Get(key); ok {
			m.hits++
			return chain, nil
		}
		m.misses++
	}
	chain := &transitionChain{}
	state := ancestor
	for _, seg := range strings.Split(target, ".") {
		next, ok := state.children[seg]
		if !ok {
			return nil, InvalidTransitionError{From: key.from, Target: target}
		}
		state = next
		if state.enter != nil {
			chain.enters = append(chain.enters, state)
		}
		if state.setup != nil {
			chain.setups = append(chain.setups, state)
		}
	}
	chain.terminal = state
	if m.chains != nil {
		m.chains.Add(key, chain)
	}
	return chain, nil
}
