// Package handler contains the echo HTTP handlers.  Handlers bind and
// check the request shape, call the booking service and translate its
// error kinds into status codes.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/middleware"
	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/service"
)

// Bookings is the part of the booking service exposed over HTTP.
type Bookings interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (service.Checkout, error)
	StartPayment(ctx context.Context, id uint64, email string) (service.Checkout, error)
	GetBooking(ctx context.Context, id uint64, email string) (model.Booking, error)
	CancelBooking(ctx context.Context, id uint64, email string) (model.Booking, error)
	ApplyVoucher(ctx context.Context, code string, bookingID uint64) (service.VoucherResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (service.WebhookResult, error)
	ConfirmBooking(ctx context.Context, actor service.Actor, id uint64) (service.Resolution, error)
	DeclineBooking(ctx context.Context, actor service.Actor, id uint64, reason model.DeclineReason) (service.Resolution, error)
	RetryRefund(ctx context.Context, id uint64) (service.Resolution, error)
	ListVendorBookings(ctx context.Context, vendorID uint64, status model.BookingStatus, limit int) ([]model.Booking, error)
	ListEscalated(ctx context.Context, limit int) ([]model.Booking, error)
	ListRefundFailures(ctx context.Context, limit int) ([]model.Booking, error)
	RunTimeoutSweep(ctx context.Context) (service.SweepReport, error)
}

// SecretReloader re-reads rotated secrets.
type SecretReloader interface {
	Reload(ctx context.Context) error
}

// Handler serves the booking, webhook, vendor and admin routes.
type Handler struct {
	Svc     Bookings
	Secrets SecretReloader
	Log     logrus.FieldLogger
	// Timeout bounds each request's work.  The sweep route is exempt.
	Timeout time.Duration
}

func New(svc Bookings, secrets SecretReloader, log logrus.FieldLogger) *Handler {
	return &Handler{Svc: svc, Secrets: secrets, Log: log, Timeout: 15 * time.Second}
}

func (h *Handler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// pathID parses the :id route parameter.
func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.Error{Op: "request", Kind: service.ErrValidation, Msg: "invalid id"}
	}
	return id, nil
}

func invalid(msg string) error {
	return &service.Error{Op: "request", Kind: service.ErrValidation, Msg: msg}
}

// actor builds the service actor from the authenticated token.
func actor(c echo.Context) service.Actor {
	id, _ := middleware.UserID(c)
	return service.Actor{UserID: id, Role: middleware.Role(c)}
}

func queryLimit(c echo.Context) int {
	n, _ := strconv.Atoi(c.QueryParam("limit"))
	return n
}
