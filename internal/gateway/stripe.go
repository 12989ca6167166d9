// Package gateway talks to Stripe: payment intents, refunds and webhook
// signature verification.  Outbound calls go through a circuit breaker
// and are bounded in time.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"

	"github.com/iliyamo/experience-booking/internal/service"
)

// Config tunes the Stripe client.
type Config struct {
	SecretKey string
	// Timeout bounds every API call.
	Timeout time.Duration
	// Failures is how many consecutive failures open the breaker.
	Failures uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
}

// intents is the part of the Stripe payment intent client we use.
type intents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// refunds is the part of the Stripe refund client we use.
type refunds interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// Stripe implements service.Gateway.
type Stripe struct {
	intents intents
	refunds refunds
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     logrus.FieldLogger
}

var _ service.Gateway = (*Stripe)(nil)

// NewStripe builds a gateway on the Stripe API client.
func NewStripe(cfg Config, log logrus.FieldLogger) *Stripe {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newStripe(sc.PaymentIntents, sc.Refunds, cfg, log)
}

func newStripe(pi intents, rf refunds, cfg Config, log logrus.FieldLogger) *Stripe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	return &Stripe{
		intents: pi,
		refunds: rf,
		breaker: newBreaker("stripe", cfg.Failures, cfg.OpenFor, log),
		timeout: cfg.Timeout,
		log:     log,
	}
}

// newBreaker opens after failures consecutive gateway failures.  Card
// and request errors are the caller's problem and do not count.
func newBreaker(name string, failures uint32, openFor time.Duration, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
}

func isClientError(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests
}

// call runs fn through the breaker with a bounded context and maps every
// failure onto service.ErrGateway.
func (s *Stripe) call(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.breaker.Execute(func() (interface{}, error) { return fn(ctx) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: payment provider unavailable: %v", service.ErrGateway, op, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", service.ErrGateway, op, err)
	}
	return out, nil
}

// CreateIntent opens a payment intent.  The idempotency key makes a
// retried request return the intent created the first time.
func (s *Stripe) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (service.Intent, error) {
	out, err := s.call(ctx, "create intent", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{
			Amount:             stripe.Int64(amountCents),
			Currency:           stripe.String(currency),
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		}
		params.Context = ctx
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}
		return s.intents.New(params)
	})
	if err != nil {
		return service.Intent{}, err
	}
	pi := out.(*stripe.PaymentIntent)
	s.log.WithFields(logrus.Fields{"intent_id": pi.ID, "amount": amountCents}).Debug("payment intent created")
	return service.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, AmountCents: pi.Amount}, nil
}

// GetIntent loads an existing intent.
func (s *Stripe) GetIntent(ctx context.Context, intentID string) (service.Intent, error) {
	out, err := s.call(ctx, "get intent", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		return s.intents.Get(intentID, params)
	})
	if err != nil {
		return service.Intent{}, err
	}
	pi := out.(*stripe.PaymentIntent)
	return service.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, AmountCents: pi.Amount}, nil
}

// UpdateIntentAmount changes what an open intent will charge.
func (s *Stripe) UpdateIntentAmount(ctx context.Context, intentID string, amountCents int64) error {
	_, err := s.call(ctx, "update intent", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{Amount: stripe.Int64(amountCents)}
		params.Context = ctx
		return s.intents.Update(intentID, params)
	})
	return err
}

// Refund refunds the full amount captured by an intent.  Stripe replays
// the stored response for a reused key, failures included, so callers
// pass a fresh key per attempt.  A charge that is already refunded
// counts as success.
func (s *Stripe) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	_, err := s.call(ctx, "refund", func(ctx context.Context) (interface{}, error) {
		params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)
		r, err := s.refunds.New(params)
		if alreadyRefunded(err) {
			s.log.WithField("intent_id", intentID).Info("charge was already refunded")
			return nil, nil
		}
		return r, err
	})
	return err
}

func alreadyRefunded(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded
}
