// Package delegate makes locally-implemented functions callable from peers
// that share nothing but an asynchronous message bus. A Registry owns the
// functions and answers call requests; a Pool issues calls against function
// identifiers the registry has announced, correlating replies back to the
// call that produced them by one-time reply identifiers.
package delegate

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	silentLog = func(format string, args ...interface{}) {}
	errorLog  = log.Printf
)

type (
	LogFunc func(string, ...interface{})

	// Invocable is a function reachable through the bus: an ordered list of
	// JSON-encoded arguments in, an ordered list of JSON-encoded results out.
	// It is both the shape of registered handlers and of caller-side proxies.
	Invocable func(ctx context.Context, args []json.RawMessage) ([]json.RawMessage, error)

	// AcceptFunc decides whether a pool acknowledges a registration request.
	AcceptFunc func(functionID, senderID string) bool

	OptionFunc func(*options)

	options struct {
		errorf, info, debug LogFunc
		callTimeout         time.Duration
		accept              AcceptFunc
	}
)

func SetError(f LogFunc) OptionFunc {
	return func(o *options) {
		o.errorf = f
	}
}

func SetInfo(f LogFunc) OptionFunc {
	return func(o *options) {
		o.info = f
	}
}

func SetDebug(f LogFunc) OptionFunc {
	return func(o *options) {
		o.debug = f
	}
}

// SetCallTimeout bounds every call issued by a Pool: when the reply does not
// arrive in time the call's future rejects with ErrCallTimeout and the
// pending entry is evicted. Zero disables the bound (pool option only).
func SetCallTimeout(d time.Duration) OptionFunc {
	return func(o *options) {
		o.callTimeout = d
	}
}

// SetAcceptor installs the policy deciding which registration requests a Pool
// acknowledges. The default accepts everything (pool option only).
func SetAcceptor(f AcceptFunc) OptionFunc {
	return func(o *options) {
		o.accept = f
	}
}

func newOptions(opts []OptionFunc) *options {
	o := &options{
		errorf: errorLog,
		info:   silentLog,
		debug:  silentLog,
		accept: func(string, string) bool { return true },
	}
	for _, setter := range opts {
		setter(o)
	}
	return o
}

// NewID returns a fresh identifier, unique across processes sharing a bus.
// Identifiers are never reused within a process lifetime.
func NewID() string {
	return uuid.NewString()
}
