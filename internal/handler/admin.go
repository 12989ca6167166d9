package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RunSweep handles POST /v1/admin/sweeps.  The sweep runs to completion
// even if the client goes away.
func (h *Handler) RunSweep(c echo.Context) error {
	rep, err := h.Svc.RunTimeoutSweep(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusOK
	if rep.AlreadyRunning {
		status = http.StatusAccepted
	}
	return c.JSON(status, viewSweep(rep))
}

// ListEscalated handles GET /v1/admin/bookings/escalated.
func (h *Handler) ListEscalated(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	bs, err := h.Svc.ListEscalated(ctx, queryLimit(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(bs), "items": viewBookings(bs)})
}

// ListRefundFailures handles GET /v1/admin/refunds/failed.
func (h *Handler) ListRefundFailures(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	bs, err := h.Svc.ListRefundFailures(ctx, queryLimit(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(bs), "items": viewBookings(bs)})
}

// RetryRefund handles POST /v1/admin/bookings/:id/refund.
func (h *Handler) RetryRefund(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.Svc.RetryRefund(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewResolution(res))
}

// ReloadSecrets handles POST /v1/admin/secrets/reload.
func (h *Handler) ReloadSecrets(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Secrets.Reload(ctx); err != nil {
		h.Log.WithError(err).Error("secret reload failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reload_failed"})
	}
	h.Log.Info("secrets reloaded")
	return c.NoContent(http.StatusNoContent)
}
