package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/obs"
)

// DeliveryQueue is the durable queue the worker consumes.  It is bound
// to every notification routing key.
const DeliveryQueue = "notifications.delivery"

// Worker consumes notifications and delivers them by email or SMS.
type Worker struct {
	URL      string
	Email    EmailSender
	SMS      SMSSender
	Log      logrus.FieldLogger
	Prefetch int
	// SendTimeout bounds one delivery attempt per channel.
	SendTimeout time.Duration
}

// Run connects to the broker and consumes until ctx is cancelled.  It
// reconnects with exponential backoff when the connection drops.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(w.URL)
		if err != nil {
			w.Log.WithError(err).WithField("retry_in", backoff).Warn("notify-worker: failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = w.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Log.WithError(err).Warn("notify-worker: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := w.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		w.Log.WithError(err).Warn("notify-worker: set QoS failed")
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(DeliveryQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(DeliveryQueue, "notify.#", Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(DeliveryQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := w.Handle(ctx, d.Body); err != nil {
				w.Log.WithError(err).WithField("routing_key", d.RoutingKey).Error("notify-worker: delivery failed")
				// reject, do not requeue to avoid tight loops
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one notification and delivers it on every channel it
// asks for.  It returns an error when any requested channel failed.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	subject, text := Render(m)
	log := w.Log.WithFields(logrus.Fields{"kind": m.Kind, "booking_id": m.BookingID})

	var errs []error
	if m.ViaEmail && m.To.Email != "" {
		errs = append(errs, w.deliver(ctx, log, "email", func(ctx context.Context) error {
			if w.Email == nil {
				return errors.New("email delivery is not configured")
			}
			return w.Email.SendEmail(ctx, m.To, subject, text)
		}))
	}
	if m.ViaSMS && m.To.Phone != "" {
		errs = append(errs, w.deliver(ctx, log, "sms", func(ctx context.Context) error {
			if w.SMS == nil {
				return errors.New("sms delivery is not configured")
			}
			return w.SMS.SendSMS(ctx, m.To.Phone, text)
		}))
	}
	return errors.Join(errs...)
}

func (w *Worker) deliver(ctx context.Context, log logrus.FieldLogger, channel string, send func(context.Context) error) error {
	timeout := w.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := send(ctx); err != nil {
		obs.NotificationsDelivered.WithLabelValues(channel, "error").Inc()
		return fmt.Errorf("%s: %w", channel, err)
	}
	obs.NotificationsDelivered.WithLabelValues(channel, "ok").Inc()
	log.WithField("channel", channel).Info("notification delivered")
	return nil
}
