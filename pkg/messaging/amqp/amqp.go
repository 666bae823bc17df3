package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// ErrClosed is returned by Connect after Close was called.
var ErrClosed = errors.New("messaging.amqp: broker closed")

// DefaultWaitTimeout bounds how long Connect waits for the broker to start
// listening and for the first dial to succeed.
const DefaultWaitTimeout = 30 * time.Second

// Broker owns the process-wide AMQP connection and its single channel. It
// is created once per process and injected into responders and callers.
// After an unexpected connection loss it notifies OnLost callbacks and
// reconnects in the background until Close.
type Broker struct {
	url         string
	waitTimeout time.Duration
	dial        func(url string) (*amqp.Connection, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	closed  bool
	onReady []func(messaging.Channel)
	onLost  []func(error)
}

// Option configures a Broker.
type Option func(*Broker)

// WithWaitTimeout overrides DefaultWaitTimeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.waitTimeout = d
	}
}

// NewBroker returns an unconnected broker handle for the given AMQP URI.
func NewBroker(url string, opts ...Option) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		url:         url,
		waitTimeout: DefaultWaitTimeout,
		dial:        amqp.Dial,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnReady registers fn to run with the fresh channel after every successful
// (re)connect. Register before Connect to see the first one.
func (b *Broker) OnReady(fn func(messaging.Channel)) {
	b.mu.Lock()
	b.onReady = append(b.onReady, fn)
	b.mu.Unlock()
}

// OnLost registers fn to run when the connection drops unexpectedly. The
// error passed wraps messaging.ErrTransportLost.
func (b *Broker) OnLost(fn func(error)) {
	b.mu.Lock()
	b.onLost = append(b.onLost, fn)
	b.mu.Unlock()
}

// Channel returns the current channel or messaging.ErrNotConnected.
func (b *Broker) Channel() (messaging.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.ch == nil {
		return nil, messaging.ErrNotConnected
	}
	return b.ch, nil
}

// Connect waits for the broker to listen, then dials it.
func (b *Broker) Connect(ctx context.Context) error {
	log.WithFields(log.Fields{"timeout": b.waitTimeout}).Info("Waiting for AMQP broker")

	if err := WaitForBroker(ctx, b.url, b.waitTimeout); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.waitTimeout
	return b.connect(ctx, bo)
}

// Close stops reconnecting and closes the channel and the connection.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	conn, ch := b.conn, b.ch
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	b.cancel()

	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

func (b *Broker) connect(ctx context.Context, bo backoff.BackOff) error {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)

	attempt := 0
	op := func() error {
		attempt++
		c, err := b.dial(b.url)
		if err != nil {
			log.WithFields(log.Fields{"attempt": attempt}).
				Warn("Failed to connect to AMQP: ", err)
			return err
		}
		chn, err := c.Channel()
		if err != nil {
			c.Close()
			log.WithFields(log.Fields{"attempt": attempt}).
				Warn("Failed to open AMQP channel: ", err)
			return err
		}
		conn, ch = c, chn
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return errors.Wrap(err, "failed to connect to AMQP broker")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrClosed
	}
	b.conn, b.ch = conn, ch
	ready := append([]func(messaging.Channel){}, b.onReady...)
	b.mu.Unlock()

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(conn, connClosed, chanClosed)

	log.WithFields(log.Fields{"attempts": attempt}).Info("Connected to AMQP broker")

	for _, fn := range ready {
		fn(ch)
	}
	return nil
}

// watch blocks until the connection or its channel closes. A channel
// exception leaves the connection open, so it is closed here to force a
// clean reconnect.
func (b *Broker) watch(conn *amqp.Connection, connClosed, chanClosed chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chanClosed:
		conn.Close()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.conn, b.ch = nil, nil
	lost := append([]func(error){}, b.onLost...)
	b.mu.Unlock()

	err := messaging.ErrTransportLost
	if reason != nil {
		err = errors.Wrap(messaging.ErrTransportLost, reason.Error())
	}
	log.WithFields(log.Fields{"reason": reason}).Error("AMQP connection lost")

	for _, fn := range lost {
		fn(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if err := b.connect(b.ctx, bo); err != nil {
		log.Info("Stopped reconnecting to AMQP broker: ", err)
	}
}
