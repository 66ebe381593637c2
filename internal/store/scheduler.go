package store

import "recordcore/internal/record"

// scheduler is the store's cooperative task queue. Adapter work and deferred
// destroys only run inside Flush; between flushes the store's state is
// stable. There is no internal concurrency, the owner serializes all access.
type scheduler struct {
	tasks   []func()
	destroy []*record.Block
}

func (s *scheduler) enqueue(fn func()) {
	s.tasks = append(s.tasks, fn)
}

func (s *scheduler) enqueueDestroy(b *record.Block) {
	s.destroy = append(s.destroy, b)
}

// flush drains the task queue, then the pending-destroy queue, repeating
// until both are empty. Tasks enqueued by running tasks execute in the same
// flush. Returns the number of tasks executed.
func (s *scheduler) flush() int {
	ran := 0
	for len(s.tasks) > 0 || len(s.destroy) > 0 {
		for len(s.tasks) > 0 {
			task := s.tasks[0]
			s.tasks = s.tasks[1:]
			task()
			ran++
		}
		pending := s.destroy
		s.destroy = nil
		for _, b := range pending {
			b.FinishScheduledDestroy()
		}
	}
	return ran
}
