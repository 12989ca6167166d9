package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/experience-booking/internal/model"
)

// ListVendorBookings handles GET /v1/vendor/bookings?status=&limit=.
func (h *Handler) ListVendorBookings(c echo.Context) error {
	status := model.BookingStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return h.fail(c, invalid("unknown status"))
	}
	a := actor(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	bs, err := h.Svc.ListVendorBookings(ctx, a.UserID, status, queryLimit(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(bs), "items": viewBookings(bs)})
}

// ConfirmBooking handles POST /v1/vendor/bookings/:id/confirm and its
// admin twin.
func (h *Handler) ConfirmBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.ConfirmBooking(ctx, actor(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewResolution(res))
}

// DeclineBooking handles POST /v1/vendor/bookings/:id/decline and its
// admin twin.  The reason follows from the caller's role.
func (h *Handler) DeclineBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	a := actor(c)
	reason := model.DeclineByVendor
	if a.Role == model.RoleAdmin {
		reason = model.DeclineByAdmin
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.DeclineBooking(ctx, a, id, reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewResolution(res))
}
