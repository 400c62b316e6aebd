package transport

import (
	"time"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "delegate"

type (
	// NATS routes each event kind over its own subject under a common prefix,
	// so independent delegation groups can share one server by using distinct
	// prefixes.
	NATS struct {
		url     string
		name    string
		prefix  string
		extConn bool
		conn    *nats.Conn
		subs    []*nats.Subscription
	}

	NATSOptionFunc func(*NATS)
)

func NewNATS(name, url string, options ...NATSOptionFunc) *NATS {
	t := &NATS{
		url:    url,
		name:   name,
		prefix: defaultSubjectPrefix,
	}

	for _, f := range options {
		f(t)
	}

	return t
}

// SetNATSConnection reuses an existing connection instead of dialing one.
// The caller keeps ownership: Shutdown will not close it.
func SetNATSConnection(conn *nats.Conn) NATSOptionFunc {
	return func(t *NATS) {
		t.extConn = true
		t.conn = conn
	}
}

// SetSubjectPrefix scopes all five event subjects under the given prefix.
func SetSubjectPrefix(prefix string) NATSOptionFunc {
	return func(t *NATS) {
		t.prefix = prefix
	}
}

func (t *NATS) Initialize() error {
	if t.conn != nil {
		return nil
	}

	conn, err := nats.Connect(t.url,
		nats.Name(t.name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
	)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *NATS) Shutdown() {
	for _, sub := range t.subs {
		sub.Unsubscribe()
	}
	t.subs = nil
	if !t.extConn && t.conn != nil {
		t.conn.Close()
	}
}

func (t *NATS) Publish(kind EventKind, payload []byte) error {
	return t.conn.Publish(t.subject(kind), payload)
}

func (t *NATS) Subscribe(kind EventKind, fn SubscribeFunc) error {
	sub, err := t.conn.Subscribe(t.subject(kind), func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return err
	}
	// Round-trip to the server so the subscription is registered before we
	// return; otherwise an event published on another connection right after
	// Subscribe can be dropped.
	if err := t.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return err
	}
	t.subs = append(t.subs, sub)
	return nil
}

func (t *NATS) subject(kind EventKind) string {
	return t.prefix + "." + string(kind)
}
