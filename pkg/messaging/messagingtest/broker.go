// Package messagingtest provides an in-memory stand-in for an AMQP broker
// with the queue semantics the request/reply protocol relies on: durable
// and server-named exclusive queues, default-exchange routing by queue
// name, manual and automatic acknowledgement, and connection loss.
package messagingtest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

const consumerBuffer = 256

// Publication is a message as it was handed to Publish.
type Publication struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type consumer struct {
	tag        string
	autoAck    bool
	deliveries chan amqp.Delivery
}

type queue struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	args       amqp.Table
	ready      []amqp.Delivery
	consumers  []*consumer
	next       int
}

type unacked struct {
	queue    string
	delivery amqp.Delivery
}

// Broker is a fake broker with a single shared channel. It implements
// messaging.ChannelProvider.
type Broker struct {
	mu           sync.Mutex
	connected    bool
	queues       map[string]*queue
	unacked      map[uint64]unacked
	declares     map[string]int
	published    []Publication
	deadLettered []amqp.Delivery
	acked        int
	nacked       int
	requeued     int
	prefetch     int
	nextTag      uint64
	nextConsumer int
	channel      *Channel
}

// NewBroker returns a connected fake broker.
func NewBroker() *Broker {
	b := &Broker{
		connected: true,
		queues:    make(map[string]*queue),
		unacked:   make(map[uint64]unacked),
		declares:  make(map[string]int),
	}
	b.channel = &Channel{b: b}
	return b
}

// Channel returns the shared channel, or messaging.ErrNotConnected while
// the broker is disconnected.
func (b *Broker) Channel() (messaging.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, messaging.ErrNotConnected
	}
	return b.channel, nil
}

// Disconnect simulates a dropped connection: every consumer stream closes,
// unacknowledged messages return to their queues, and exclusive queues are
// removed the way a real broker removes connection-owned queues.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false
	for tag, u := range b.unacked {
		delete(b.unacked, tag)
		if q, ok := b.queues[u.queue]; ok {
			d := u.delivery
			d.Redelivered = true
			q.ready = append(q.ready, d)
		}
	}
	for name, q := range b.queues {
		for _, c := range q.consumers {
			close(c.deliveries)
		}
		q.consumers = nil
		if q.exclusive {
			delete(b.queues, name)
		}
	}
}

// Reconnect makes the channel available again.
func (b *Broker) Reconnect() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
}

// HasQueue reports whether a queue with the given name exists.
func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.queues[name]
	return ok
}

// QueueNames lists the existing queues.
func (b *Broker) QueueNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// Declares returns how often a queue name was declared.
func (b *Broker) Declares(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declares[name]
}

// Published returns a copy of every publication so far.
func (b *Broker) Published() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publication(nil), b.published...)
}

// Ready returns the number of messages waiting in the named queue.
func (b *Broker) Ready(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.ready)
	}
	return 0
}

// Consumers returns the number of consumers on the named queue.
func (b *Broker) Consumers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.consumers)
	}
	return 0
}

// Unacked returns the number of delivered, unsettled messages.
func (b *Broker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unacked)
}

// Acks returns the acknowledgement counters: acked, nacked and how many of
// the nacks were requeued.
func (b *Broker) Acks() (acked, nacked, requeued int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked, b.nacked, b.requeued
}

// DeadLettered returns the messages rejected without requeue from queues
// declared with an x-dead-letter-exchange argument.
func (b *Broker) DeadLettered() []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Delivery(nil), b.deadLettered...)
}

// Prefetch returns the last Qos prefetch count.
func (b *Broker) Prefetch() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefetch
}

// dispatch hands ready messages to consumers round-robin. Called with mu
// held. A full consumer buffer leaves the message queued.
func (b *Broker) dispatch(q *queue) {
	for len(q.ready) > 0 && len(q.consumers) > 0 {
		sent := false
		for i := 0; i < len(q.consumers); i++ {
			c := q.consumers[(q.next+i)%len(q.consumers)]
			d := q.ready[0]
			b.nextTag++
			d.DeliveryTag = b.nextTag
			d.ConsumerTag = c.tag
			d.Acknowledger = b
			select {
			case c.deliveries <- d:
				if !c.autoAck {
					b.unacked[d.DeliveryTag] = unacked{queue: q.name, delivery: d}
				}
				q.ready = q.ready[1:]
				q.next = (q.next + i + 1) % len(q.consumers)
				sent = true
			default:
			}
			if sent {
				break
			}
		}
		if !sent {
			return
		}
	}
}

// Ack implements amqp.Acknowledger.
func (b *Broker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.unacked[tag]; !ok {
		return errors.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.unacked, tag)
	b.acked++
	return nil
}

// Nack implements amqp.Acknowledger.
func (b *Broker) Nack(tag uint64, multiple bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.unacked[tag]
	if !ok {
		return errors.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.unacked, tag)
	b.nacked++

	q, exists := b.queues[u.queue]
	if !exists {
		return nil
	}
	if requeue {
		b.requeued++
		d := u.delivery
		d.Redelivered = true
		q.ready = append(q.ready, d)
		b.dispatch(q)
		return nil
	}
	if _, ok := q.args["x-dead-letter-exchange"]; ok {
		b.deadLettered = append(b.deadLettered, u.delivery)
	}
	return nil
}

// Reject implements amqp.Acknowledger.
func (b *Broker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

// Channel is the fake broker's channel. It implements messaging.Channel.
type Channel struct {
	b *Broker
}

func (ch *Channel) checkConnected() error {
	if !ch.b.connected {
		return amqp.ErrClosed
	}
	return nil
}

// QueueDeclare implements messaging.Channel. Redeclaring a queue with the
// same flags is a no-op; different flags fail like PRECONDITION_FAILED.
func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ch.checkConnected(); err != nil {
		return amqp.Queue{}, err
	}

	if name == "" {
		name = "amq.gen-" + uuid.New().String()
	}
	b.declares[name]++

	if q, ok := b.queues[name]; ok {
		if q.durable != durable || q.autoDelete != autoDelete || q.exclusive != exclusive {
			return amqp.Queue{}, &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name),
			}
		}
		return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
	}

	b.queues[name] = &queue{
		name:       name,
		durable:    durable,
		autoDelete: autoDelete,
		exclusive:  exclusive,
		args:       args,
	}
	return amqp.Queue{Name: name}, nil
}

// QueueDelete implements messaging.Channel. Deleting a missing queue
// succeeds, as it does on RabbitMQ.
func (ch *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ch.checkConnected(); err != nil {
		return 0, err
	}

	q, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	for _, c := range q.consumers {
		close(c.deliveries)
	}
	delete(b.queues, name)
	return len(q.ready), nil
}

// Qos implements messaging.Channel.
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ch.checkConnected(); err != nil {
		return err
	}
	b.prefetch = prefetchCount
	return nil
}

// Consume implements messaging.Channel.
func (ch *Channel) Consume(queueName, tag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ch.checkConnected(); err != nil {
		return nil, err
	}

	q, ok := b.queues[queueName]
	if !ok {
		return nil, &amqp.Error{
			Code:   amqp.NotFound,
			Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName),
		}
	}
	if tag == "" {
		b.nextConsumer++
		tag = fmt.Sprintf("ctag-%d", b.nextConsumer)
	}

	c := &consumer{
		tag:        tag,
		autoAck:    autoAck,
		deliveries: make(chan amqp.Delivery, consumerBuffer),
	}
	q.consumers = append(q.consumers, c)
	b.dispatch(q)
	return c.deliveries, nil
}

// Cancel implements messaging.Channel.
func (ch *Channel) Cancel(tag string, noWait bool) error {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		for i, c := range q.consumers {
			if c.tag == tag {
				q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
				close(c.deliveries)
				return nil
			}
		}
	}
	return nil
}

// Publish implements messaging.Channel. Only the default exchange routes;
// a message without a matching queue is dropped, as with mandatory=false.
func (ch *Channel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ch.checkConnected(); err != nil {
		return err
	}

	b.published = append(b.published, Publication{Exchange: exchange, Key: key, Msg: msg})
	if exchange != "" {
		return nil
	}

	q, ok := b.queues[key]
	if !ok {
		return nil
	}
	q.ready = append(q.ready, amqp.Delivery{
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		Exchange:      exchange,
		RoutingKey:    key,
		Body:          append([]byte(nil), msg.Body...),
	})
	b.dispatch(q)
	return nil
}
