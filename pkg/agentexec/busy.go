package agentexec

import "sync"

const busySubscriberBuffer = 16

// BusyState tracks whether any agent call is running. It is advisory UI
// state and never blocks a call from starting.
type BusyState struct {
	mu     sync.Mutex
	active int
	subs   map[int]chan bool
	nextID int
	closed bool
}

func NewBusyState() *BusyState {
	return &BusyState{subs: make(map[int]chan bool)}
}

// Acquire marks one call as running. The returned release func must be
// called exactly once when the call ends; extra calls are ignored.
func (b *BusyState) Acquire() (release func()) {
	b.mu.Lock()
	b.active++
	if b.active == 1 {
		b.publishLocked(true)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.active--
			if b.active == 0 {
				b.publishLocked(false)
			}
			b.mu.Unlock()
		})
	}
}

func (b *BusyState) Busy() bool {
	return b.Active() > 0
}

// Active returns the number of running calls.
func (b *BusyState) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Subscribe returns a channel receiving every busy transition. A subscriber
// that falls behind misses transitions; Busy stays authoritative.
func (b *BusyState) Subscribe() (<-chan bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan bool, busySubscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Close closes all subscriber channels.
func (b *BusyState) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *BusyState) publishLocked(busy bool) {
	for _, ch := range b.subs {
		select {
		case ch <- busy:
		default:
		}
	}
}
