package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/experience-booking/internal/service"
)

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrSignatureVerification):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStateConflict), errors.Is(err, service.ErrInsufficientInventory):
		return http.StatusConflict
	case errors.Is(err, service.ErrVoucherInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorCode is the machine readable error name returned to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "validation_error"
	case errors.Is(err, service.ErrSignatureVerification):
		return "invalid_signature"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, service.ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, service.ErrVoucherDisabled):
		return "voucher_disabled"
	case errors.Is(err, service.ErrVoucherExpired):
		return "voucher_expired"
	case errors.Is(err, service.ErrVoucherNotApplicable):
		return "voucher_not_applicable"
	case errors.Is(err, service.ErrVoucherInvalid):
		return "voucher_invalid"
	case errors.Is(err, service.ErrGateway):
		return "payment_gateway_error"
	}
	return "internal_error"
}

// fail writes err as {"error": code, "message": reason}.  Internal
// errors are logged and their detail is not returned.
func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.JSON(status, echo.Map{"error": "internal_error"})
	}
	return c.JSON(status, echo.Map{"error": errorCode(err), "message": service.Reason(err)})
}
