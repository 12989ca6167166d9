package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/experience-booking/internal/service"
)

type createBookingReq struct {
	ExperienceID   uint64 `json:"experience_id"`
	AvailabilityID uint64 `json:"availability_id"`
	Quantity       int    `json:"quantity"`
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
}

type emailReq struct {
	Email string `json:"email"`
}

type voucherReq struct {
	Code string `json:"code"`
}

// CreateBooking handles POST /v1/bookings.
func (h *Handler) CreateBooking(c echo.Context) error {
	var req createBookingReq
	if err := c.Bind(&req); err != nil {
		return h.fail(c, invalid("invalid body"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	co, err := h.Svc.CreateBooking(ctx, service.CreateBookingInput{
		ExperienceID:   req.ExperienceID,
		AvailabilityID: req.AvailabilityID,
		Quantity:       req.Quantity,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, viewCheckout(co))
}

// GetBooking handles GET /v1/bookings/:id?email=.  The email must match
// the booking's customer.
func (h *Handler) GetBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	email := strings.TrimSpace(c.QueryParam("email"))
	if email == "" {
		return h.fail(c, invalid("email is required"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	b, err := h.Svc.GetBooking(ctx, id, email)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewBooking(b))
}

// StartPayment handles POST /v1/bookings/:id/payment-intent.
func (h *Handler) StartPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return h.fail(c, invalid("email is required"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	co, err := h.Svc.StartPayment(ctx, id, strings.TrimSpace(req.Email))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewCheckout(co))
}

// ApplyVoucher handles POST /v1/bookings/:id/voucher.
func (h *Handler) ApplyVoucher(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req voucherReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return h.fail(c, invalid("code is required"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.ApplyVoucher(ctx, strings.TrimSpace(req.Code), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewVoucher(res))
}

// CancelBooking handles POST /v1/bookings/:id/cancel.
func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return h.fail(c, invalid("email is required"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	b, err := h.Svc.CancelBooking(ctx, id, strings.TrimSpace(req.Email))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewBooking(b))
}
