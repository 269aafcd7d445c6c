package backup

import (
	"sync"
)

// Observer receives state transitions. Observers run on the notifier goroutine, one
// transition at a time, in publication order.
type Observer func(Transition)

// notifier delivers transitions to observers without blocking publishers.
type notifier struct {
	mu        sync.Mutex
	observers []Observer
	queue     []Transition
	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) subscribe(obs Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, obs)
}

func (n *notifier) publish(t Transition) {
	n.mu.Lock()
	n.queue = append(n.queue, t)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.quit:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		t := n.queue[0]
		n.queue = n.queue[1:]
		observers := append([]Observer(nil), n.observers...)
		n.mu.Unlock()

		for _, obs := range observers {
			obs(t)
		}
	}
}

// close delivers pending transitions and stops the notifier goroutine.
func (n *notifier) close() {
	n.closeOnce.Do(func() { close(n.quit) })
	<-n.done
}
