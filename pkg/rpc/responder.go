package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc answers one call kind. The returned value is encoded as the
// reply body. A non-nil error means the call could not be processed and
// the message goes back to the queue.
type HandlerFunc func(ctx context.Context, call Call) (interface{}, error)

// DefaultRequeueDelay is how long a worker holds a failed call before
// handing it back to the queue.
const DefaultRequeueDelay = 500 * time.Millisecond

// Responder consumes calls from a durable well-known queue and answers
// them through the handlers registered per call kind.
type Responder struct {
	provider           messaging.ChannelProvider
	queue              string
	prefetch           int
	deadLetterExchange string
	requeueDelay       time.Duration
	recorder           Recorder

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithQueue sets the request queue name.
func WithQueue(name string) ResponderOption {
	return func(r *Responder) {
		r.queue = name
	}
}

// WithPrefetch sets the channel prefetch and the number of calls handled
// concurrently. Values below 1 are ignored.
func WithPrefetch(n int) ResponderOption {
	return func(r *Responder) {
		if n > 0 {
			r.prefetch = n
		}
	}
}

// WithDeadLetterExchange makes malformed calls go to the given exchange
// instead of being dropped. The request queue is declared with the
// matching x-dead-letter-exchange argument, so all deployments bound to
// the queue must agree on it.
func WithDeadLetterExchange(exchange string) ResponderOption {
	return func(r *Responder) {
		r.deadLetterExchange = exchange
	}
}

// WithRequeueDelay sets how long a call whose handler failed is held before
// it is requeued. Zero requeues at once.
func WithRequeueDelay(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d >= 0 {
			r.requeueDelay = d
		}
	}
}

// WithResponderRecorder sets the outcome recorder.
func WithResponderRecorder(rec Recorder) ResponderOption {
	return func(r *Responder) {
		r.recorder = rec
	}
}

// NewResponder returns a Responder for DefaultQueue with prefetch 1.
func NewResponder(provider messaging.ChannelProvider, opts ...ResponderOption) *Responder {
	r := &Responder{
		provider:     provider,
		queue:        DefaultQueue,
		prefetch:     1,
		requeueDelay: DefaultRequeueDelay,
		recorder:     NopRecorder{},
		handlers:     make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for calls of the given kind.
func (r *Responder) Handle(kind string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
}

func (r *Responder) handler(kind string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Bind declares the request queue and sets the prefetch. Declaring an
// existing queue with the same arguments is a no-op, so Bind is safe on
// every startup.
func (r *Responder) Bind() error {
	ch, err := r.provider.Channel()
	if err != nil {
		return err
	}
	return r.bind(ch)
}

func (r *Responder) bind(ch messaging.Channel) error {
	if err := DeclareRequestQueue(ch, r.queue, r.deadLetterExchange); err != nil {
		return err
	}

	if err := ch.Qos(
		r.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	); err != nil {
		return errors.Wrap(err, "failed to set qos")
	}

	return nil
}

// Serve binds the queue and handles calls until ctx is done, which returns
// nil, or until the delivery stream closes, which returns an error wrapping
// messaging.ErrTransportLost.
func (r *Responder) Serve(ctx context.Context) error {
	ch, err := r.provider.Channel()
	if err != nil {
		return err
	}
	return r.serve(ctx, ch)
}

// Run serves on the current channel until ctx is done or the transport goes
// away. Other Serve failures, such as a refused Qos, are retried on bo for
// as long as the channel is still the broker's current one. After a
// transport loss the broker's ready hook is expected to start the next Run.
func (r *Responder) Run(ctx context.Context, bo backoff.BackOff) error {
	ch, err := r.provider.Channel()
	if err != nil {
		return err
	}

	op := func() error {
		if cur, err := r.provider.Channel(); err != nil || cur != ch {
			return backoff.Permanent(errors.Wrap(messaging.ErrTransportLost, "channel replaced"))
		}

		err := r.serve(ctx, ch)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, messaging.ErrTransportLost), errors.Is(err, messaging.ErrNotConnected):
			return backoff.Permanent(err)
		}
		log.WithFields(log.Fields{"queue": r.queue}).Warn("Responder failed, retrying: ", err)
		return err
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (r *Responder) serve(ctx context.Context, ch messaging.Channel) error {
	if err := r.bind(ch); err != nil {
		return err
	}

	tag := "responder-" + uuid.New().String()
	deliveries, err := ch.Consume(
		r.queue, // queue
		tag,     // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return errors.Wrapf(err, "failed to consume queue %s", r.queue)
	}

	log.WithFields(log.Fields{"queue": r.queue, "workers": r.prefetch}).
		Info("Responder listening")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.prefetch; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return errors.Wrapf(messaging.ErrTransportLost, "deliveries of %s closed", r.queue)
					}
					r.handle(gctx, ch, d)
				}
			}
		})
	}

	err = g.Wait()
	if err == nil {
		if cerr := ch.Cancel(tag, false); cerr != nil {
			log.WithFields(log.Fields{"queue": r.queue}).
				Debug("Failed to cancel responder consumer: ", cerr)
		}
	}
	log.WithFields(log.Fields{"queue": r.queue}).Info("Responder stopped")
	return err
}

// handle settles every delivery exactly once. The ack comes after the
// reply publish, so a crash in between redelivers the call.
func (r *Responder) handle(ctx context.Context, ch messaging.Channel, d amqp.Delivery) {
	logger := log.WithFields(log.Fields{"queue": r.queue, "correlationId": d.CorrelationId})

	call, err := ParseCall(d)
	if err != nil {
		r.recorder.Record("", OutcomeMalformed)
		logger.Warn("Dropping call: ", err)
		r.reject(logger, d)
		return
	}

	kind := call.Envelope().Kind
	logger = logger.WithField("kind", kind)

	h := r.handler(kind)
	if h == nil {
		r.recorder.Record(kind, OutcomeUnknownKind)
		logger.Debug("Ignoring call of unknown kind")
		settle(logger, d.Ack(false))
		return
	}

	res, err := h(ctx, call)
	if err != nil {
		r.recorder.Record(kind, OutcomeHandlerError)
		r.requeue(ctx, logger, d, err)
		return
	}

	switch c := call.(type) {
	case RequestReply:
		body, err := json.Marshal(res)
		if err != nil {
			r.recorder.Record(kind, OutcomeHandlerError)
			logger.Error("Failed to encode reply: ", err)
			settle(logger, d.Nack(false, false))
			return
		}

		if err := ch.Publish(
			"",        // exchange
			c.ReplyTo, // routing key
			false,     // mandatory
			false,     // immediate
			amqp.Publishing{
				ContentType:   ContentType,
				CorrelationId: c.CorrelationID,
				Body:          body,
			}); err != nil {
			r.recorder.Record(kind, OutcomeError)
			logger.Error("Failed to publish reply, requeueing: ", err)
			settle(logger, d.Nack(false, true))
			return
		}
		logger.WithField("replyTo", c.ReplyTo).Debug("Reply published")
	case FireAndForget:
		logger.Debug("Call handled, no reply expected")
	}

	r.recorder.Record(kind, OutcomeServed)
	settle(logger, d.Ack(false))
}

// requeue hands a failed call back to the queue after the requeue delay, or
// at once when ctx ends. Only the first failure of a call is logged as an
// error; its redeliveries log at debug level.
func (r *Responder) requeue(ctx context.Context, logger *log.Entry, d amqp.Delivery, err error) {
	if d.Redelivered {
		logger.Debug("Failed to handle redelivered call, requeueing: ", err)
	} else {
		logger.Error("Failed to handle call, requeueing: ", err)
	}

	if r.requeueDelay > 0 {
		timer := time.NewTimer(r.requeueDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	settle(logger, d.Nack(false, true))
}

// reject drops a malformed call, into the dead-letter exchange if one is
// configured. It is never requeued.
func (r *Responder) reject(logger *log.Entry, d amqp.Delivery) {
	if r.deadLetterExchange != "" {
		settle(logger, d.Nack(false, false))
		return
	}
	settle(logger, d.Ack(false))
}

func settle(logger *log.Entry, err error) {
	if err != nil {
		logger.Warn("Failed to settle delivery: ", err)
	}
}
