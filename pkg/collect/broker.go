package collect

import "sync"

// Broker fans messages out to subscribers. Slow subscribers miss messages
// rather than holding up the publisher.
type Broker[T any] struct {
	stopC      chan struct{}
	broadcastC chan T
	subC       chan chan T
	unsubC     chan chan T

	mu        sync.RWMutex
	isStopped bool
}

func NewBroker[T any]() *Broker[T] {
	b := &Broker[T]{
		stopC:      make(chan struct{}),
		broadcastC: make(chan T, 1),
		subC:       make(chan chan T),
		unsubC:     make(chan chan T),
		isStopped:  true,
	}
	return b
}

// Start begins distributing messages. A stopped broker cannot be restarted.
func (b *Broker[T]) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.stopC:
		return
	default:
	}
	if !b.isStopped {
		return
	}
	b.isStopped = false
	go b.run()
}

func (b *Broker[T]) run() {
	subs := map[chan T]bool{}
	for {
		select {
		case <-b.stopC:
			for c := range subs {
				close(c)
			}
			return
		case newC := <-b.subC:
			subs[newC] = true
		case oldC := <-b.unsubC:
			if subs[oldC] {
				delete(subs, oldC)
				close(oldC)
			}
		case msg := <-b.broadcastC:
			for subbedC := range subs {
				// non-blocking broadcast
				select {
				case subbedC <- msg:
				default:
				}
			}
		}
	}
}

func (b *Broker[T]) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.isStopped
}

func (b *Broker[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isStopped {
		return
	}
	b.isStopped = true
	close(b.stopC)
}

func (b *Broker[T]) Subscribe() chan T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isStopped {
		return nil
	}
	newC := make(chan T, 5)
	select {
	case b.subC <- newC:
		return newC
	case <-b.stopC:
		return nil
	}
}

func (b *Broker[T]) Unsubscribe(oldC chan T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isStopped {
		return
	}
	select {
	case b.unsubC <- oldC:
	case <-b.stopC:
	}
}

func (b *Broker[T]) Broadcast(msg T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isStopped {
		return
	}
	select {
	case b.broadcastC <- msg:
	case <-b.stopC:
	}
}
