package auth

import (
	"sync"
	"sync/atomic"
)

type listener struct {
	fn     func(*Session)
	active atomic.Bool
}

func (l *listener) Unsubscribe() {
	l.active.Store(false)
}

type brokerOp struct {
	add     *listener
	target  *listener
	session *Session
}

// Broker fans session changes out to listeners.
//
// A single goroutine owns the listener list and invokes callbacks one at a
// time, so every listener observes changes in exactly the order they were
// published.
type Broker struct {
	ops     chan brokerOp
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

func NewBroker() *Broker {
	b := &Broker{
		ops:     make(chan brokerOp, 64),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	var listeners []*listener

	deliver := func(l *listener, s *Session) {
		if l.active.Load() {
			l.fn(s.Clone())
		}
	}

	for {
		select {
		case <-b.stopCh:
			return
		case op := <-b.ops:
			switch {
			case op.add != nil:
				listeners = append(listeners, op.add)
			case op.target != nil:
				deliver(op.target, op.session)
			default:
				kept := listeners[:0]
				for _, l := range listeners {
					if l.active.Load() {
						kept = append(kept, l)
						deliver(l, op.session)
					}
				}
				listeners = kept
			}
		}
	}
}

func (b *Broker) send(op brokerOp) {
	if b.closed.Load() {
		return
	}
	select {
	case b.ops <- op:
	case <-b.stopped:
	}
}

// Subscribe registers fn for every later Publish.
func (b *Broker) Subscribe(fn func(*Session)) Subscription {
	l := &listener{fn: fn}
	l.active.Store(true)
	b.send(brokerOp{add: l})
	return l
}

// Publish queues s for every active listener.
func (b *Broker) Publish(s *Session) {
	b.send(brokerOp{session: s.Clone()})
}

// PublishTo queues s for a single listener, ordered with other publishes.
func (b *Broker) PublishTo(sub Subscription, s *Session) {
	l, ok := sub.(*listener)
	if !ok {
		return
	}
	b.send(brokerOp{target: l, session: s.Clone()})
}

// Close stops the dispatch goroutine. Changes still queued are dropped.
func (b *Broker) Close() {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.stopCh)
	})
	<-b.stopped
}
