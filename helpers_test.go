package delegate

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/micaelbergeron/delegate/transport"
)

// fakeTransport records published events and lets tests deliver events to
// subscribers synchronously, keeping unit tests deterministic.
type fakeTransport struct {
	mu         sync.Mutex
	subs       map[transport.EventKind][]transport.SubscribeFunc
	published  map[transport.EventKind][][]byte
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:      make(map[transport.EventKind][]transport.SubscribeFunc),
		published: make(map[transport.EventKind][][]byte),
	}
}

func (f *fakeTransport) Initialize() error { return nil }

func (f *fakeTransport) Shutdown() {}

func (f *fakeTransport) Publish(kind transport.EventKind, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[kind] = append(f.published[kind], payload)
	return nil
}

func (f *fakeTransport) Subscribe(kind transport.EventKind, fn transport.SubscribeFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[kind] = append(f.subs[kind], fn)
	return nil
}

// deliver feeds an event to every subscriber of kind, as the bus would.
func (f *fakeTransport) deliver(t *testing.T, kind transport.EventKind, event interface{}) {
	t.Helper()
	payload, err := transport.Encode(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	f.mu.Lock()
	handlers := append([]transport.SubscribeFunc(nil), f.subs[kind]...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(payload)
	}
}

// sent returns the payloads published so far for kind.
func (f *fakeTransport) sent(kind transport.EventKind) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[kind]...)
}

func encodeInt(t *testing.T, v int) json.RawMessage {
	t.Helper()
	return json.RawMessage(strconv.Itoa(v))
}

func decodeInt(t *testing.T, raw json.RawMessage) int {
	t.Helper()
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		t.Fatalf("decode int from %q: %v", raw, err)
	}
	return v
}
