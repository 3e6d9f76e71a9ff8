package dispatcher

import "github.com/goliatone/go-automation"

// Listener observes finalized executions.
type Listener func(exec automation.Execution)

type Subscription interface {
	Unsubscribe()
}

type subs struct {
	dispatcher *Dispatcher
	listener   Listener
}

// Subscribe registers l for every finalized execution. Listeners run on the
// worker that produced the execution and must not block.
func (d *Dispatcher) Subscribe(l Listener) Subscription {
	s := &subs{dispatcher: d, listener: l}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, s)
	return s
}

func (s *subs) Unsubscribe() {
	d := s.dispatcher
	d.mu.Lock()
	defer d.mu.Unlock()

	newList := make([]*subs, 0, len(d.listeners))
	for _, l := range d.listeners {
		if l != s {
			newList = append(newList, l)
		}
	}
	d.listeners = newList
}

func (d *Dispatcher) notify(exec automation.Execution) {
	d.mu.RLock()
	listeners := make([]*subs, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, s := range listeners {
		if s.listener == nil {
			continue
		}
		func() {
			defer automation.MakePanicHandler(d.panicLogger)("dispatcher.listener", map[string]any{"execution_id": exec.ID})
			s.listener(exec.Clone())
		}()
	}
}
