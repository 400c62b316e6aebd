package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrNotInitialized rejects Publish and Subscribe on a transport whose
// Initialize has not run yet.
var ErrNotInitialized = errors.New("transport not initialized")

type (
	// INMemory is a process-local bus for tests and single-process wiring.
	// Events pass through a buffered queue drained by a single dispatcher
	// goroutine, so a subscriber never runs on the publisher's call stack and
	// events are delivered in publish order.
	INMemory struct {
		mu            sync.RWMutex
		subscriptions map[EventKind][]SubscribeFunc
		queue         chan *envelope
		ctx           context.Context
		cancel        context.CancelFunc
		initialized   bool
	}

	envelope struct {
		kind    EventKind
		payload []byte
	}
)

func NewINMemory() *INMemory {
	return &INMemory{}
}

func (t *INMemory) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		t.subscriptions = make(map[EventKind][]SubscribeFunc)
		t.queue = make(chan *envelope, 1024)
		t.ctx, t.cancel = context.WithCancel(context.Background())
		t.initialized = true
		go t.dispatch()
	}
	return nil
}

func (t *INMemory) Shutdown() {
	t.cancel()
}

func (t *INMemory) Publish(kind EventKind, payload []byte) error {
	t.mu.RLock()
	initialized := t.initialized
	t.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
	}
	select {
	case t.queue <- &envelope{kind: kind, payload: payload}:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

func (t *INMemory) Subscribe(kind EventKind, fn SubscribeFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return ErrNotInitialized
	}
	t.subscriptions[kind] = append(t.subscriptions[kind], fn)
	return nil
}

func (t *INMemory) dispatch() {
	for {
		select {
		case e := <-t.queue:
			t.mu.RLock()
			handlers := t.subscriptions[e.kind]
			t.mu.RUnlock()
			for _, handler := range handlers {
				handler(e.payload)
			}
		case <-t.ctx.Done():
			return
		}
	}
}
