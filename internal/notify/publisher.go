package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Exchange is the topic exchange every notification is published to.
// Routing keys are "notify." followed by the message kind.
const Exchange = "notifications"

// RoutingKey returns the routing key a message of kind k is published
// under.
func RoutingKey(k Kind) string { return "notify." + string(k) }

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes notifications to RabbitMQ.  It keeps one
// connection open and redials lazily after the broker drops it.  The
// dial happens outside the lock and never outlasts the caller's
// deadline.  Errors are logged and returned so the caller can record them without
// interrupting the booking flow.
type Publisher struct {
	url string
	log logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	dial func(url string, timeout time.Duration) (*amqp.Connection, channel, error)
}

// maxDialTimeout caps a dial when the caller has no deadline.
const maxDialTimeout = 30 * time.Second

// NewPublisher returns a publisher for the broker at url.  The first
// connection is made on the first Notify call.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	return &Publisher{url: url, log: log, dial: dialChannel}
}

func dialChannel(url string, timeout time.Duration) (*amqp.Connection, channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// dialTimeout is the time left before ctx's deadline, capped at
// maxDialTimeout.
func dialTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := maxDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		if left < d {
			d = left
		}
	}
	return d, nil
}

// live returns the open channel, if any.
func (p *Publisher) live() channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && (p.conn == nil || !p.conn.IsClosed()) {
		return p.ch
	}
	return nil
}

func (p *Publisher) channel(ctx context.Context) (channel, error) {
	if ch := p.live(); ch != nil {
		return ch, nil
	}
	timeout, err := dialTimeout(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	conn, ch, err := p.dial(p.url, timeout)
	if err != nil {
		return nil, err
	}
	// Durable so bindings survive broker restarts.
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		closeQuietly(conn, ch)
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && (p.conn == nil || !p.conn.IsClosed()) {
		// another caller connected first
		closeQuietly(conn, ch)
		return p.ch, nil
	}
	p.resetLocked()
	p.conn, p.ch = conn, ch
	return ch, nil
}

func closeQuietly(conn *amqp.Connection, ch channel) {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *Publisher) resetLocked() {
	closeQuietly(p.conn, p.ch)
	p.conn, p.ch = nil, nil
}

// drop forgets ch if it is still the current channel.
func (p *Publisher) drop(ch channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.resetLocked()
	}
}

// Notify publishes msg as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, kind Kind, msg Message) error {
	msg.Kind = kind
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		p.log.WithError(err).WithField("kind", kind).Warn("rabbitmq: publisher unavailable")
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, Exchange, RoutingKey(kind), false, false, pub); err != nil {
		p.log.WithError(err).WithField("kind", kind).Warn("rabbitmq: publish failed")
		p.drop(ch)
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// ErrNoChannel is returned by Validate when a message has no usable
// delivery channel.
var ErrNoChannel = errors.New("notification has no deliverable channel")

// Validate checks that msg can be delivered on at least one channel.
func (m Message) Validate() error {
	if m.Kind == "" {
		return errors.New("notification kind is empty")
	}
	email := m.ViaEmail && m.To.Email != ""
	sms := m.ViaSMS && m.To.Phone != ""
	if !email && !sms {
		return fmt.Errorf("%s to %q: %w", m.Kind, m.To.Name, ErrNoChannel)
	}
	return nil
}
