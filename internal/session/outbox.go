package session

import "sync"

// outbox runs side effects (event publishing, journal writes) on one
// goroutine in the order they were queued. Queueing happens under the
// session mutex, so delivery order matches state-change order.
type outbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

// push queues fn. Calls after close are dropped.
func (o *outbox) push(fn func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, fn)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// close runs everything already queued and stops the worker.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	<-o.done
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		select {
		case <-o.wake:
			o.drain()
		case <-o.stop:
			o.drain()
			return
		}
	}
}

func (o *outbox) drain() {
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}
