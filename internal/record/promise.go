package record

// Promise is a single-settlement proxy for an asynchronous result. It settles
// at most once; further settle attempts are ignored. The content function is
// evaluated on access, so the proxy reflects live state both before and after
// settlement.
//
// Promises are settled and observed on the store's single logical thread;
// there is no internal synchronization.
type Promise struct {
	content func() any
	settled bool
	failed  bool
	err     error
	done    []func(any, error)
}

func newPromise(content func() any) *Promise {
	return &Promise{content: content}
}

// NewPromise returns an unsettled promise whose content is computed by fn on
// each access. For proxies owned outside this package.
func NewPromise(fn func() any) *Promise { return newPromise(fn) }

// Resolve settles the promise successfully.
func (p *Promise) Resolve() { p.resolve() }

// Reject settles the promise with err.
func (p *Promise) Reject(err error) { p.reject(err) }

// Content returns the current backing value. Valid before settlement; callers
// observing a to-many proxy early see the live partial collection.
func (p *Promise) Content() any {
	if p.content == nil {
		return nil
	}
	return p.content()
}

// Settled reports whether the promise has resolved or rejected.
func (p *Promise) Settled() bool { return p.settled }

// Err returns the rejection error, or nil.
func (p *Promise) Err() error { return p.err }

// Done registers a callback to run at settlement. Callbacks registered after
// settlement run immediately.
func (p *Promise) Done(fn func(content any, err error)) {
	if p.settled {
		fn(p.Content(), p.err)
		return
	}
	p.done = append(p.done, fn)
}

func (p *Promise) resolve() {
	if p.settled {
		return
	}
	p.settled = true
	p.notify()
}

func (p *Promise) reject(err error) {
	if p.settled {
		return
	}
	p.settled = true
	p.failed = true
	p.err = err
	p.notify()
}

func (p *Promise) notify() {
	callbacks := p.done
	p.done = nil
	for _, fn := range callbacks {
		fn(p.Content(), p.err)
	}
}
