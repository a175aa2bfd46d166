package events

import "context"

// Bus is the single writer of a run's event stream. The orchestrator
// owns the write side; any number of sinks (log, NATS, TUI) subscribe
// on the read side via Subscribe. Closing the bus closes every
// subscriber channel.
type Bus struct {
	subs []chan Event
	in   chan Event
	done chan struct{}
}

// NewBus constructs a bus with a buffered intake channel: Emit returns
// at once while fewer than buffer events are waiting, and blocks once
// the intake is full until Run takes an event or Close is called.
func NewBus(buffer int) *Bus {
	b := &Bus{in: make(chan Event, buffer), done: make(chan struct{})}
	return b
}

// Subscribe returns a read-only channel that receives every event
// emitted after this call. Must be called before Run.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Emit hands an event to the bus. Safe to call only from the
// orchestrator's control goroutine, preserving the single-writer
// invariant.
func (b *Bus) Emit(e Event) {
	select {
	case b.in <- e:
	case <-b.done:
	}
}

// Run fans events from the intake channel out to every subscriber
// until ctx is cancelled or Close is called. Intended to run in its
// own goroutine for the lifetime of a run.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.in:
			for _, sub := range b.subs {
				select {
				case sub <- e:
				case <-ctx.Done():
					b.closeSubs()
					return
				}
			}
		case <-ctx.Done():
			b.closeSubs()
			return
		case <-b.done:
			b.closeSubs()
			return
		}
	}
}

// Close stops Run and closes every subscriber channel.
func (b *Bus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

func (b *Bus) closeSubs() {
	for _, sub := range b.subs {
		close(sub)
	}
}
