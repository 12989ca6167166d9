// Package router wires the HTTP routes onto an echo instance.
package router

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/handler"
	"github.com/iliyamo/experience-booking/internal/middleware"
	"github.com/iliyamo/experience-booking/internal/model"
)

// Deps are the handlers and middleware the routes need.
type Deps struct {
	Handler   *handler.Handler
	Auth      *handler.AuthHandler
	Health    echo.HandlerFunc
	JWTSecret string
	// VoucherLimit rate limits voucher redemption; nil disables it.
	VoucherLimit echo.MiddlewareFunc
	Log          logrus.FieldLogger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(d.Log))

	e.GET("/healthz", d.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	RegisterAuth(e, d.Auth, d.JWTSecret)
	RegisterBookings(e, d.Handler, d.VoucherLimit)
	RegisterVendor(e, d.Handler, d.JWTSecret)
	RegisterAdmin(e, d.Handler, d.JWTSecret)
	return e
}

func requestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			})
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Error("request")
			case v.Status >= http.StatusInternalServerError:
				entry.Error("request")
			default:
				entry.Info("request")
			}
			return nil
		},
	})
}

// RegisterAuth registers login routes under /v1/auth and the
// authenticated /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleVendor, model.RoleAdmin))
}

// RegisterBookings registers the customer facing checkout routes and the
// payment webhook.  None of them require a token.
func RegisterBookings(e *echo.Echo, h *handler.Handler, voucherLimit echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings")
	g.POST("", h.CreateBooking)
	g.GET("/:id", h.GetBooking)
	g.POST("/:id/payment-intent", h.StartPayment)
	g.POST("/:id/cancel", h.CancelBooking)
	if voucherLimit != nil {
		g.POST("/:id/voucher", h.ApplyVoucher, voucherLimit)
	} else {
		g.POST("/:id/voucher", h.ApplyVoucher)
	}

	e.POST("/v1/webhooks/stripe", h.StripeWebhook, echomw.BodyLimit("64K"))
}

// RegisterVendor registers the vendor routes.
func RegisterVendor(e *echo.Echo, h *handler.Handler, jwtSecret string) {
	g := e.Group("/v1/vendor", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleVendor))
	g.GET("/bookings", h.ListVendorBookings)
	g.POST("/bookings/:id/confirm", h.ConfirmBooking)
	g.POST("/bookings/:id/decline", h.DeclineBooking)
}

// RegisterAdmin registers the admin routes.
func RegisterAdmin(e *echo.Echo, h *handler.Handler, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	g.POST("/sweeps", h.RunSweep)
	g.GET("/bookings/escalated", h.ListEscalated)
	g.GET("/refunds/failed", h.ListRefundFailures)
	g.POST("/bookings/:id/refund", h.RetryRefund)
	g.POST("/bookings/:id/confirm", h.ConfirmBooking)
	g.POST("/bookings/:id/decline", h.DeclineBooking)
	g.POST("/secrets/reload", h.ReloadSecrets)
}
