package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/experience-booking/internal/service"
)

// MaxWebhookBody caps the payment webhook payload.
const MaxWebhookBody = 64 << 10

// StripeWebhook handles POST /v1/webhooks/stripe.  Events that fail
// signature verification get 400.  Events that reference unknown data
// are acknowledged with 200 so the gateway stops redelivering them;
// other failures return 500 so it retries.
func (h *Handler) StripeWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if len(body) > MaxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.HandleWebhook(ctx, body, c.Request().Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": res.Status})
	case errors.Is(err, service.ErrSignatureVerification):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_signature"})
	case errors.Is(err, service.ErrDataIntegrity):
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "data_integrity_error"})
	}
	h.Log.WithError(err).WithField("event_id", res.EventID).Error("webhook processing failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing_failed"})
}
