package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// DefaultQueue is the well-known request queue of the auth service.
const DefaultQueue = "auth_queue"

// Caller invokes remote calls over the broker. Every invocation owns a
// private reply queue and correlation id, so concurrent calls never see
// each other's replies.
type Caller struct {
	provider messaging.ChannelProvider
	queue    string
	recorder Recorder
	pending  *registry

	declare            bool
	deadLetterExchange string

	mu       sync.Mutex
	declared messaging.Channel
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithTargetQueue sets the queue calls are published to.
func WithTargetQueue(name string) CallerOption {
	return func(c *Caller) {
		c.queue = name
	}
}

// WithCallerRecorder sets the outcome recorder.
func WithCallerRecorder(r Recorder) CallerOption {
	return func(c *Caller) {
		c.recorder = r
	}
}

// WithRequestQueueDeclare makes the Caller declare the durable request
// queue, with dlx as its dead-letter exchange, before the first call on a
// channel. Calls published before any responder is bound then wait in the
// queue instead of being dropped. dlx must match the responder's.
func WithRequestQueueDeclare(dlx string) CallerOption {
	return func(c *Caller) {
		c.declare = true
		c.deadLetterExchange = dlx
	}
}

// NewCaller returns a Caller publishing to DefaultQueue unless configured
// otherwise.
func NewCaller(provider messaging.ChannelProvider, opts ...CallerOption) *Caller {
	c := &Caller{
		provider: provider,
		queue:    DefaultQueue,
		recorder: NopRecorder{},
		pending:  newRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke publishes env and waits up to timeout for the correlated reply
// body. It fails with messaging.ErrNotConnected before the broker is up,
// ErrTimeout when the deadline passes, messaging.ErrTransportLost when the
// connection drops, or the context error when ctx ends first. There is no
// retry here.
func (c *Caller) Invoke(ctx context.Context, env Envelope, timeout time.Duration) ([]byte, error) {
	ch, err := c.provider.Channel()
	if err != nil {
		c.recorder.Record(env.Kind, OutcomeNotConnected)
		return nil, err
	}

	body, err := env.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode call")
	}

	if err := c.ensureQueue(ch); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to declare reply queue")
	}

	corrID := uuid.New().String()
	tag := "rpc-" + corrID
	defer c.cleanup(ch, q.Name, tag)

	call, err := c.pending.add(corrID, timeout)
	if err != nil {
		return nil, err
	}

	replies, err := ch.Consume(
		q.Name, // queue
		tag,    // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		c.pending.remove(corrID)
		return nil, errors.Wrap(err, "failed to consume reply queue")
	}
	go c.dispatch(env.Kind, corrID, replies)

	if err := ch.Publish(
		"",      // exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   ContentType,
			CorrelationId: corrID,
			ReplyTo:       q.Name,
			Timestamp:     call.createdAt,
			Body:          body,
		}); err != nil {
		c.pending.remove(corrID)
		return nil, errors.Wrap(err, "failed to publish call")
	}
	c.recorder.Record(env.Kind, OutcomeCall)

	log.WithFields(log.Fields{"kind": env.Kind, "correlationId": corrID, "replyTo": q.Name}).
		Debug("Call published")

	timer := time.NewTimer(time.Until(call.deadline))
	defer timer.Stop()

	var res result
	select {
	case res = <-call.done:
	case <-timer.C:
		res = c.expire(call, ErrTimeout)
	case <-ctx.Done():
		res = c.expire(call, ctx.Err())
	}

	c.recorder.Record(env.Kind, outcomeOf(res.err))
	if res.err != nil {
		log.WithFields(log.Fields{"kind": env.Kind, "correlationId": corrID}).
			Debug("Call failed: ", res.err)
	}
	return res.body, res.err
}

// DeclareQueue declares the request queue on ch when the Caller was built
// with WithRequestQueueDeclare, and does nothing otherwise. Run it from the
// broker's ready hook so the queue exists right after every (re)connect.
func (c *Caller) DeclareQueue(ch messaging.Channel) error {
	if !c.declare {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := DeclareRequestQueue(ch, c.queue, c.deadLetterExchange); err != nil {
		return err
	}
	c.declared = ch
	log.WithFields(log.Fields{"queue": c.queue}).Debug("Request queue declared")
	return nil
}

// ensureQueue declares the request queue once per channel.
func (c *Caller) ensureQueue(ch messaging.Channel) error {
	if !c.declare {
		return nil
	}

	c.mu.Lock()
	done := c.declared == ch
	c.mu.Unlock()
	if done {
		return nil
	}
	return c.DeclareQueue(ch)
}

// FailPending rejects every in-flight call with err and returns how many
// there were.
func (c *Caller) FailPending(err error) int {
	n := c.pending.failAll(err)
	if n > 0 {
		log.WithFields(log.Fields{"pending": n}).Warn("Failed in-flight calls: ", err)
	}
	return n
}

// Pending returns the number of in-flight calls.
func (c *Caller) Pending() int {
	return c.pending.len()
}

// expire ends call with err unless another completion already removed it,
// in which case that completion's result is waiting in done.
func (c *Caller) expire(call *pendingCall, err error) result {
	if c.pending.remove(call.correlationID) {
		return result{err: err}
	}
	return <-call.done
}

// dispatch feeds replies from one reply queue into the registry until the
// consumer is cancelled. Anything not matching the call is dropped.
func (c *Caller) dispatch(kind, corrID string, replies <-chan amqp.Delivery) {
	for d := range replies {
		if d.CorrelationId == corrID && c.pending.resolve(corrID, result{body: d.Body}) {
			continue
		}
		c.recorder.Record(kind, OutcomeDroppedReply)
		log.WithFields(log.Fields{"kind": kind, "correlationId": d.CorrelationId}).
			Debug("Discarding reply without pending call")
	}
}

func (c *Caller) cleanup(ch messaging.Channel, queue, tag string) {
	if err := ch.Cancel(tag, false); err != nil {
		log.WithFields(log.Fields{"queue": queue}).
			Debug("Failed to cancel reply consumer: ", err)
	}
	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		log.WithFields(log.Fields{"queue": queue}).
			Debug("Failed to delete reply queue: ", err)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeReply
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, messaging.ErrTransportLost):
		return OutcomeTransportLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
