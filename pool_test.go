package delegate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/micaelbergeron/delegate/transport"
)

func startedPool(t *testing.T, opts ...OptionFunc) (*Pool, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	pool := NewPool(ft, opts...)
	require.NoError(t, pool.Start())
	return pool, ft
}

func ackFunction(t *testing.T, ft *fakeTransport, functionID string) {
	t.Helper()
	ft.deliver(t, transport.KindRegistrationAck, transport.RegistrationAck{FunctionID: functionID})
}

func TestPool_Call_FailsFastOnUnregisteredTarget(t *testing.T) {
	pool, ft := startedPool(t)

	_, err := pool.Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnregisteredTarget)
	require.Empty(t, ft.sent(transport.KindCallRequest), "failed call must not emit a request")
}

func TestPool_Call_EmitsRequestAndResolvesOnReply(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", []json.RawMessage{encodeInt(t, 21)})
	require.NoError(t, err)

	requests := ft.sent(transport.KindCallRequest)
	require.Len(t, requests, 1)

	var req transport.CallRequest
	require.NoError(t, transport.Decode(requests[0], &req))
	require.Equal(t, "fn", req.FunctionID)
	require.NotEmpty(t, req.ReplyID)
	require.Equal(t, 21, decodeInt(t, req.Args[0]))

	ft.deliver(t, transport.KindCallReply, transport.CallReply{
		ReplyID: req.ReplyID,
		Results: []json.RawMessage{encodeInt(t, 42)},
	})

	results, err := fut.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, decodeInt(t, results[0]))
}

func TestPool_ReplyCorrelation_MatchesReplyIDNotIssueOrder(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	first, err := pool.Call(context.Background(), "fn", []json.RawMessage{encodeInt(t, 1)})
	require.NoError(t, err)
	second, err := pool.Call(context.Background(), "fn", []json.RawMessage{encodeInt(t, 2)})
	require.NoError(t, err)

	requests := ft.sent(transport.KindCallRequest)
	require.Len(t, requests, 2)

	// Answer out of issue order.
	for i := len(requests) - 1; i >= 0; i-- {
		var req transport.CallRequest
		require.NoError(t, transport.Decode(requests[i], &req))
		ft.deliver(t, transport.KindCallReply, transport.CallReply{
			ReplyID: req.ReplyID,
			Results: []json.RawMessage{encodeInt(t, 2 * decodeInt(t, req.Args[0]))},
		})
	}

	results, err := first.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, decodeInt(t, results[0]))

	results, err = second.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, decodeInt(t, results[0]))
}

func TestPool_StaleReply_IsDiscarded(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", nil)
	require.NoError(t, err)

	ft.deliver(t, transport.KindCallReply, transport.CallReply{ReplyID: "never-issued"})

	var req transport.CallRequest
	require.NoError(t, transport.Decode(ft.sent(transport.KindCallRequest)[0], &req))
	ft.deliver(t, transport.KindCallReply, transport.CallReply{ReplyID: req.ReplyID})

	_, err = fut.Await(context.Background())
	require.NoError(t, err)
}

func TestPool_ErrorReply_RejectsFuture(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", nil)
	require.NoError(t, err)

	var req transport.CallRequest
	require.NoError(t, transport.Decode(ft.sent(transport.KindCallRequest)[0], &req))
	ft.deliver(t, transport.KindCallReply, transport.CallReply{
		ReplyID: req.ReplyID,
		Error:   &transport.ErrorDetail{Code: CodeUnknownFunction, Message: "gone"},
	})

	_, err = fut.Await(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, CodeUnknownFunction, remote.Code)
}

func TestPool_RegistrationAck_IsIdempotent(t *testing.T) {
	pool, ft := startedPool(t)

	require.False(t, pool.Callable("fn"))
	ackFunction(t, ft, "fn")
	ackFunction(t, ft, "fn")
	require.True(t, pool.Callable("fn"))
}

func TestPool_UnregistrationNotice_BlocksAndRejectsPending(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", nil)
	require.NoError(t, err)

	ft.deliver(t, transport.KindUnregistrationNotice, transport.UnregistrationNotice{
		FunctionID: "fn",
		SenderID:   "some-registry",
	})

	require.False(t, pool.Callable("fn"))

	_, err = fut.Await(context.Background())
	require.ErrorIs(t, err, ErrDisposed)

	_, err = pool.Call(context.Background(), "fn", nil)
	require.ErrorIs(t, err, ErrUnregisteredTarget)
}

func TestPool_BridgesRegistrationRequestToAck(t *testing.T) {
	_, ft := startedPool(t)

	ft.deliver(t, transport.KindRegistrationRequest, transport.RegistrationRequest{
		FunctionID: "fn",
		SenderID:   "some-registry",
	})

	acks := ft.sent(transport.KindRegistrationAck)
	require.Len(t, acks, 1)

	var ack transport.RegistrationAck
	require.NoError(t, transport.Decode(acks[0], &ack))
	require.Equal(t, "fn", ack.FunctionID)
}

func TestPool_AcceptorCanRefuseRegistration(t *testing.T) {
	_, ft := startedPool(t, SetAcceptor(func(functionID, senderID string) bool {
		return senderID == "trusted"
	}))

	ft.deliver(t, transport.KindRegistrationRequest, transport.RegistrationRequest{
		FunctionID: "fn",
		SenderID:   "stranger",
	})
	require.Empty(t, ft.sent(transport.KindRegistrationAck))

	ft.deliver(t, transport.KindRegistrationRequest, transport.RegistrationRequest{
		FunctionID: "fn",
		SenderID:   "trusted",
	})
	require.Len(t, ft.sent(transport.KindRegistrationAck), 1)
}

func TestPool_CallTimeout_RejectsAndEvicts(t *testing.T) {
	pool, ft := startedPool(t, SetCallTimeout(20*time.Millisecond))
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", nil)
	require.NoError(t, err)

	_, err = fut.Await(context.Background())
	require.ErrorIs(t, err, ErrCallTimeout)

	// The entry is gone, a late reply is treated as stale.
	var req transport.CallRequest
	require.NoError(t, transport.Decode(ft.sent(transport.KindCallRequest)[0], &req))
	ft.deliver(t, transport.KindCallReply, transport.CallReply{ReplyID: req.ReplyID})
}

func TestPool_ContextCancellation_RejectsCall(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	ctx, cancel := context.WithCancel(context.Background())
	fut, err := pool.Call(ctx, "fn", nil)
	require.NoError(t, err)

	cancel()

	_, err = fut.Await(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPool_Shutdown_RejectsPendingAndNewCalls(t *testing.T) {
	pool, ft := startedPool(t)
	ackFunction(t, ft, "fn")

	fut, err := pool.Call(context.Background(), "fn", nil)
	require.NoError(t, err)

	pool.Shutdown()

	_, err = fut.Await(context.Background())
	require.ErrorIs(t, err, ErrShutdown)

	_, err = pool.Call(context.Background(), "fn", nil)
	require.ErrorIs(t, err, ErrShutdown)
}
