package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/webhook"

	"github.com/iliyamo/experience-booking/internal/service"
)

// WebhookVerifier checks Stripe-Signature headers and decodes events.
type WebhookVerifier struct{}

var _ service.EventVerifier = WebhookVerifier{}

// VerifyEvent validates the signature against secret and extracts the
// payment intent carried by payment_intent.* events.
func (WebhookVerifier) VerifyEvent(payload []byte, signatureHeader, secret string) (service.PaymentEvent, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, secret)
	if err != nil {
		return service.PaymentEvent{}, fmt.Errorf("%w: %v", service.ErrSignatureVerification, err)
	}
	out := service.PaymentEvent{ID: ev.ID, Type: ev.Type}
	if !strings.HasPrefix(ev.Type, "payment_intent.") || ev.Data == nil {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return service.PaymentEvent{}, fmt.Errorf("decode payment intent of event %s: %w", ev.ID, err)
	}
	out.IntentID = pi.ID
	out.AmountCents = pi.Amount
	if pi.AmountReceived > 0 {
		out.AmountCents = pi.AmountReceived
	}
	out.Currency = string(pi.Currency)
	out.Metadata = pi.Metadata
	return out, nil
}
