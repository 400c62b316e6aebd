package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/micaelbergeron/delegate/transport"
)

// Registry is the callee side: it owns locally-implemented functions keyed by
// identifier, executes incoming call requests against them and answers with
// call replies. Registration is announced over the bus and torn down by
// Dispose, which broadcasts an unregistration notice per held function.
type Registry struct {
	errorf, info, debug LogFunc
	t                   transport.Transport
	id                  string

	mu       sync.Mutex
	handlers map[string]Invocable
	waiters  map[string]*Future
}

// NewRegistry creates a registry on the given transport. Each registry gets
// its own instance identifier, used as the sender id on registration traffic.
func NewRegistry(t transport.Transport, opts ...OptionFunc) *Registry {
	o := newOptions(opts)
	return &Registry{
		errorf:   o.errorf,
		info:     o.info,
		debug:    o.debug,
		t:        t,
		id:       NewID(),
		handlers: make(map[string]Invocable),
		waiters:  make(map[string]*Future),
	}
}

// ID returns the registry's instance identifier.
func (r *Registry) ID() string {
	return r.id
}

// Start subscribes the registry to call requests and registration acks.
func (r *Registry) Start() error {
	r.info("Starting registry %s", r.id)

	if err := r.t.Subscribe(transport.KindCallRequest, r.dispatchRequest); err != nil {
		return err
	}
	return r.t.Subscribe(transport.KindRegistrationAck, r.handleAck)
}

// Register stores the handler under a fresh function identifier and returns
// both. The returned handle is the handler itself, so local code can keep
// calling it directly without a bus round trip.
func (r *Registry) Register(handler Invocable) (string, Invocable) {
	functionID := NewID()

	r.mu.Lock()
	r.handlers[functionID] = handler
	r.mu.Unlock()

	r.debug("Registered handler under %s", functionID)
	return functionID, handler
}

// Announce publishes a registration request for functionID and returns a
// future that settles when a matching acknowledgment arrives. The future is a
// liveness signal for the registrant; callers track acks independently.
func (r *Registry) Announce(functionID string) (*Future, error) {
	r.mu.Lock()
	if _, ok := r.handlers[functionID]; !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("function %s: %w", functionID, ErrUnregisteredTarget)
	}
	fut := newFuture()
	r.waiters[functionID] = fut
	r.mu.Unlock()

	payload, err := transport.Encode(transport.RegistrationRequest{
		FunctionID: functionID,
		SenderID:   r.id,
	})
	if err == nil {
		err = r.t.Publish(transport.KindRegistrationRequest, payload)
	}
	if err != nil {
		r.mu.Lock()
		delete(r.waiters, functionID)
		r.mu.Unlock()
		return nil, err
	}

	r.info("Announced function %s", functionID)
	return fut, nil
}

// Dispose broadcasts an unregistration notice per registered function, clears
// the registry and rejects outstanding registration waiters. Call requests
// arriving afterwards are answered with the unknown-function error reply.
func (r *Registry) Dispose() {
	r.mu.Lock()
	handlers := r.handlers
	waiters := r.waiters
	r.handlers = make(map[string]Invocable)
	r.waiters = make(map[string]*Future)
	r.mu.Unlock()

	r.info("Disposing registry %s, revoking %d functions", r.id, len(handlers))

	for functionID := range handlers {
		payload, err := transport.Encode(transport.UnregistrationNotice{
			FunctionID: functionID,
			SenderID:   r.id,
		})
		if err == nil {
			err = r.t.Publish(transport.KindUnregistrationNotice, payload)
		}
		if err != nil {
			r.errorf("Failed to revoke function %s: %s", functionID, err)
		}
	}

	for functionID, fut := range waiters {
		fut.Reject(fmt.Errorf("function %s: %w", functionID, ErrDisposed))
	}
}

func (r *Registry) dispatchRequest(payload []byte) error {
	var req transport.CallRequest
	if err := transport.Decode(payload, &req); err != nil {
		r.errorf("Malformed call request: %s", err)
		return nil
	}

	r.mu.Lock()
	handler, ok := r.handlers[req.FunctionID]
	r.mu.Unlock()

	if !ok {
		r.errorf("No handler for function %s", req.FunctionID)
		return r.reply(transport.CallReply{
			ReplyID: req.ReplyID,
			Error: &transport.ErrorDetail{
				Code:    CodeUnknownFunction,
				Message: fmt.Sprintf("no handler registered for function %s", req.FunctionID),
			},
		})
	}

	r.debug("Dispatching call request for %s, reply id: %s", req.FunctionID, req.ReplyID)

	// Handlers may block, so they never run on the transport's dispatch
	// goroutine.
	go r.invoke(handler, req)
	return nil
}

func (r *Registry) invoke(handler Invocable, req transport.CallRequest) {
	results, err := func() (results []json.RawMessage, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("handler panic: %v", rec)
			}
		}()
		return handler(context.Background(), req.Args)
	}()

	reply := transport.CallReply{ReplyID: req.ReplyID}
	if err != nil {
		reply.Error = &transport.ErrorDetail{
			Code:    CodeHandlerError,
			Message: err.Error(),
		}
	} else {
		reply.Results = results
	}

	if err := r.reply(reply); err != nil {
		r.errorf("Failed to reply to call %s: %s", req.ReplyID, err)
	}
}

func (r *Registry) reply(reply transport.CallReply) error {
	payload, err := transport.Encode(reply)
	if err != nil {
		return err
	}
	return r.t.Publish(transport.KindCallReply, payload)
}

func (r *Registry) handleAck(payload []byte) error {
	var ack transport.RegistrationAck
	if err := transport.Decode(payload, &ack); err != nil {
		r.errorf("Malformed registration ack: %s", err)
		return nil
	}

	r.mu.Lock()
	fut, ok := r.waiters[ack.FunctionID]
	if ok {
		delete(r.waiters, ack.FunctionID)
	}
	r.mu.Unlock()

	if !ok {
		// Ack for a function we are not waiting on, likely a duplicate.
		return nil
	}

	r.debug("Registration of %s acknowledged", ack.FunctionID)
	fut.Resolve(nil)
	return nil
}
