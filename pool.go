package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/micaelbergeron/delegate/transport"
)

type (
	// Pool is the caller side: it tracks which remote function identifiers
	// are currently valid to call and matches asynchronous replies back to
	// the calls that produced them.
	Pool struct {
		errorf, info, debug LogFunc
		t                   transport.Transport
		id                  string
		callTimeout         time.Duration
		accept              AcceptFunc

		mu      sync.Mutex
		targets map[string]struct{}
		pending map[string]*pendingCall
		closed  bool
	}

	pendingCall struct {
		functionID string
		future     *Future
	}
)

// NewPool creates a pool on the given transport. The transport must be
// initialized and the pool started before issuing calls.
func NewPool(t transport.Transport, opts ...OptionFunc) *Pool {
	o := newOptions(opts)
	return &Pool{
		errorf:      o.errorf,
		info:        o.info,
		debug:       o.debug,
		t:           t,
		id:          NewID(),
		callTimeout: o.callTimeout,
		accept:      o.accept,
		targets:     make(map[string]struct{}),
		pending:     make(map[string]*pendingCall),
	}
}

// Start subscribes the pool to replies, registration traffic and
// unregistration notices.
func (p *Pool) Start() error {
	p.info("Starting pool %s", p.id)

	if err := p.t.Subscribe(transport.KindCallReply, p.dispatchReply); err != nil {
		return err
	}
	if err := p.t.Subscribe(transport.KindRegistrationAck, p.handleAck); err != nil {
		return err
	}
	if err := p.t.Subscribe(transport.KindUnregistrationNotice, p.handleUnregistered); err != nil {
		return err
	}
	return p.t.Subscribe(transport.KindRegistrationRequest, p.acknowledge)
}

// Shutdown rejects every pending call and blocks new ones. It does not shut
// the transport down, the transport may be shared.
func (p *Pool) Shutdown() {
	p.info("Shutting down pool %s", p.id)

	p.mu.Lock()
	stale := p.pending
	p.pending = make(map[string]*pendingCall)
	p.targets = make(map[string]struct{})
	p.closed = true
	p.mu.Unlock()

	for _, pc := range stale {
		pc.future.Reject(ErrShutdown)
	}
}

// Call issues a call request against functionID and returns the future its
// reply will settle. It fails fast, without emitting anything, when the
// identifier is not in the callable set. Context expiry rejects the future
// and evicts the pending entry.
func (p *Pool) Call(ctx context.Context, functionID string, args []json.RawMessage) (*Future, error) {
	p.debug("Calling function %s", functionID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, ok := p.targets[functionID]; !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("function %s: %w", functionID, ErrUnregisteredTarget)
	}
	replyID := NewID()
	fut := newFuture()
	p.pending[replyID] = &pendingCall{functionID: functionID, future: fut}
	p.mu.Unlock()

	payload, err := transport.Encode(transport.CallRequest{
		FunctionID: functionID,
		ReplyID:    replyID,
		Args:       args,
	})
	if err == nil {
		err = p.t.Publish(transport.KindCallRequest, payload)
	}
	if err != nil {
		p.evict(replyID)
		return nil, err
	}

	go p.watch(ctx, replyID, fut)

	return fut, nil
}

// Invoke is Call followed by Await.
func (p *Pool) Invoke(ctx context.Context, functionID string, args []json.RawMessage) ([]json.RawMessage, error) {
	fut, err := p.Call(ctx, functionID, args)
	if err != nil {
		return nil, err
	}
	return fut.Await(ctx)
}

// Proxy returns a callable handle bound to functionID. It does not register
// anything: calls fail until the identifier joins the callable set.
func (p *Pool) Proxy(functionID string) Invocable {
	return func(ctx context.Context, args []json.RawMessage) ([]json.RawMessage, error) {
		return p.Invoke(ctx, functionID, args)
	}
}

// Callable reports whether functionID is currently in the callable set.
func (p *Pool) Callable(functionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.targets[functionID]
	return ok
}

func (p *Pool) watch(ctx context.Context, replyID string, fut *Future) {
	var timeout <-chan time.Time
	if p.callTimeout > 0 {
		timer := time.NewTimer(p.callTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-fut.Done():
	case <-ctx.Done():
		p.fail(replyID, ctx.Err())
	case <-timeout:
		p.fail(replyID, ErrCallTimeout)
	}
}

func (p *Pool) dispatchReply(payload []byte) error {
	var reply transport.CallReply
	if err := transport.Decode(payload, &reply); err != nil {
		p.errorf("Malformed call reply: %s", err)
		return nil
	}

	pc := p.evict(reply.ReplyID)
	if pc == nil {
		// Stale or duplicate reply, not ours to handle.
		p.debug("Discarding reply with unknown id %s", reply.ReplyID)
		return nil
	}

	p.debug("Dispatching reply, id: %s", reply.ReplyID)
	if reply.Error != nil {
		pc.future.Reject(&RemoteError{Code: reply.Error.Code, Message: reply.Error.Message})
	} else {
		pc.future.Resolve(reply.Results)
	}
	return nil
}

func (p *Pool) handleAck(payload []byte) error {
	var ack transport.RegistrationAck
	if err := transport.Decode(payload, &ack); err != nil {
		p.errorf("Malformed registration ack: %s", err)
		return nil
	}

	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.targets[ack.FunctionID] = struct{}{}
	}
	p.mu.Unlock()

	if !closed {
		p.info("Function %s is now callable", ack.FunctionID)
	}
	return nil
}

func (p *Pool) handleUnregistered(payload []byte) error {
	var notice transport.UnregistrationNotice
	if err := transport.Decode(payload, &notice); err != nil {
		p.errorf("Malformed unregistration notice: %s", err)
		return nil
	}

	p.mu.Lock()
	delete(p.targets, notice.FunctionID)
	var stale []*pendingCall
	for replyID, pc := range p.pending {
		if pc.functionID == notice.FunctionID {
			stale = append(stale, pc)
			delete(p.pending, replyID)
		}
	}
	p.mu.Unlock()

	p.info("Function %s unregistered by %s, failing %d pending calls", notice.FunctionID, notice.SenderID, len(stale))
	for _, pc := range stale {
		pc.future.Reject(fmt.Errorf("function %s: %w", notice.FunctionID, ErrDisposed))
	}
	return nil
}

// acknowledge bridges registration requests to acks. The ack is broadcast;
// the pool picks the function id up in handleAck like any other listener.
func (p *Pool) acknowledge(payload []byte) error {
	var req transport.RegistrationRequest
	if err := transport.Decode(payload, &req); err != nil {
		p.errorf("Malformed registration request: %s", err)
		return nil
	}

	if !p.accept(req.FunctionID, req.SenderID) {
		p.debug("Rejecting registration of %s from %s", req.FunctionID, req.SenderID)
		return nil
	}

	ack, err := transport.Encode(transport.RegistrationAck{FunctionID: req.FunctionID})
	if err != nil {
		return err
	}
	return p.t.Publish(transport.KindRegistrationAck, ack)
}

func (p *Pool) evict(replyID string) *pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.pending[replyID]
	if !ok {
		return nil
	}
	delete(p.pending, replyID)
	return pc
}

func (p *Pool) fail(replyID string, err error) {
	if pc := p.evict(replyID); pc != nil {
		p.info("Failing pending call %s: %s", replyID, err)
		pc.future.Reject(err)
	}
}
