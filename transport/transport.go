package transport

type (
	// EventKind names one of the five bus event channels.
	EventKind string

	// SubscribeFunc handles a single event payload. Returning an error tells
	// the transport the event was not consumed; what happens next is
	// adapter-specific (the AMQP adapter nacks, the others log and move on).
	SubscribeFunc func(payload []byte) error

	// Transport is the asynchronous message bus the delegation core runs on.
	// Delivery is never synchronous with Publish: a publisher must not observe
	// its own event on the publishing call stack. Per-publisher emission order
	// is preserved towards any single subscriber; no cross-publisher ordering
	// is guaranteed.
	Transport interface {
		Initialize() error
		Shutdown()
		Publish(kind EventKind, payload []byte) error
		Subscribe(kind EventKind, fn SubscribeFunc) error
	}
)

const (
	KindCallRequest          EventKind = "call.request"
	KindCallReply            EventKind = "call.reply"
	KindRegistrationRequest  EventKind = "registration.request"
	KindRegistrationAck      EventKind = "registration.ack"
	KindUnregistrationNotice EventKind = "unregistration.notice"
)
