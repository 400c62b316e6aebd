package transport

import (
	"github.com/streadway/amqp"
)

type (
	// AMQPTransport binds the five event kinds to a direct exchange. Every
	// subscriber instance gets its own auto-delete queue per kind, bound with
	// the kind as routing key, so events fan out to all instances on the bus.
	AMQPTransport struct {
		url          string
		name         string
		tag          string
		exchangeName string
		extConn      bool
		conn         *amqp.Connection
		out          *amqp.Channel
		inChannels   map[EventKind]*amqp.Channel
		initialized  chan struct{}
	}

	AMQPOptionFunc func(*AMQPTransport)
)

// NewAMQPTransport creates an adapter publishing through the exchange derived
// from name. The tag must be unique per instance, it scopes the subscriber
// queues.
func NewAMQPTransport(name, tag, url string, options ...AMQPOptionFunc) *AMQPTransport {
	t := &AMQPTransport{
		url:          url,
		name:         name,
		tag:          tag,
		exchangeName: exchangeName(name),
	}

	for _, f := range options {
		f(t)
	}

	t.inChannels = make(map[EventKind]*amqp.Channel)
	t.initialized = make(chan struct{})
	return t
}

// SetConnection reuses an existing connection instead of dialing one.
func SetConnection(conn *amqp.Connection) AMQPOptionFunc {
	return func(t *AMQPTransport) {
		t.extConn = true
		t.conn = conn
	}
}

func (t *AMQPTransport) Initialize() error {
	var err error
	defer close(t.initialized)

	if t.conn == nil {
		t.conn, err = amqp.Dial(t.url)
		if err != nil {
			return err
		}
	}

	t.out, err = t.conn.Channel()
	if err != nil {
		return err
	}

	err = t.out.ExchangeDeclare(t.exchangeName, "direct", false, true, false, false, nil)

	return err
}

func (t *AMQPTransport) Shutdown() {
	for _, ch := range t.inChannels {
		ch.Close()
	}

	if t.out != nil {
		t.out.Close()
	}

	if !t.extConn && t.conn != nil {
		t.conn.Close()
	}
}

func (t *AMQPTransport) Publish(kind EventKind, payload []byte) error {
	publishing := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	}
	return t.out.Publish(t.exchangeName, string(kind), false, false, publishing)
}

func (t *AMQPTransport) Subscribe(kind EventKind, fn SubscribeFunc) error {
	<-t.initialized
	ch, err := t.getSubscribeChannel(kind)
	if err != nil {
		return err
	}

	queue := queueName(t.name, t.tag, kind)

	if err = t.ensureQueue(ch, queue, kind); err != nil {
		return err
	}

	delivery, err := ch.Consume(queue, t.tag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	go t.handle(delivery, fn)

	return nil
}

func (t *AMQPTransport) handle(in <-chan amqp.Delivery, fn SubscribeFunc) {
	for msg := range in {
		err := fn(msg.Body)
		if err != nil {
			msg.Nack(false, false)
		} else {
			msg.Ack(false)
		}
	}
}

func (t *AMQPTransport) getSubscribeChannel(kind EventKind) (*amqp.Channel, error) {
	var err error
	_, exists := t.inChannels[kind]
	if !exists {
		t.inChannels[kind], err = t.conn.Channel()
	}
	return t.inChannels[kind], err
}

func (t *AMQPTransport) ensureQueue(channel *amqp.Channel, name string, kind EventKind) error {
	_, err := channel.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		return err
	}
	return channel.QueueBind(name, string(kind), t.exchangeName, false, nil)
}

func exchangeName(name string) string {
	return name + ".delegate.exchange"
}

func queueName(name, tag string, kind EventKind) string {
	return name + ".delegate." + tag + "." + string(kind)
}
