package record

type deferredTrigger struct {
	event string
	arg   any
}

// Trigger delivers a lifecycle notification to the facade. While no facade is
// materialized the trigger is queued and replayed, in order, at the first
// materialization.
func (b *Block) Trigger(event string, arg any) {
	if b.facade == nil {
		b.triggers = append(b.triggers, deferredTrigger{event: event, arg: arg})
		return
	}
	b.facade.Trigger(event, arg)
}

func (b *Block) flushTriggers() {
	if b.facade == nil {
		return
	}
	queued := b.triggers
	b.triggers = nil
	for _, t := range queued {
		b.facade.Trigger(t.event, t.arg)
	}
}
