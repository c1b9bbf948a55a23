package cron

import "sync"

// Event is dispatched to observers for every scheduler action. The RPC layer
// subscribes to forward these to connected clients.
type Event struct {
	JobID   string    `json:"jobId"`
	Action  Action    `json:"action"`
	Status  RunStatus `json:"status,omitempty"`
	Summary string    `json:"summary,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Observers is an explicit subscribe/unsubscribe registry. Dispatch is
// synchronous and in submission order; observers must not block.
type Observers struct {
	mu   sync.RWMutex
	subs map[uint64]func(Event)
	seq  uint64
}

func NewObservers() *Observers {
	return &Observers{subs: make(map[uint64]func(Event))}
}

// Subscribe registers fn and returns its unsubscribe function.
func (o *Observers) Subscribe(fn func(Event)) (unsubscribe func()) {
	o.mu.Lock()
	o.seq++
	id := o.seq
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

func (o *Observers) emit(e Event) {
	o.mu.RLock()
	fns := make([]func(Event), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
