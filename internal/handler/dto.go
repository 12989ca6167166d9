package handler

import (
	"time"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/service"
)

type bookingView struct {
	ID              uint64     `json:"id"`
	ExperienceID    uint64     `json:"experience_id"`
	AvailabilityID  uint64     `json:"availability_id"`
	Quantity        int        `json:"quantity"`
	TotalPriceCents int64      `json:"total_price_cents"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	IsEscalated     bool       `json:"is_escalated"`
	DeclineReason   string     `json:"decline_reason,omitempty"`
	RefundStatus    string     `json:"refund_status,omitempty"`
	CustomerName    string     `json:"customer_name"`
	CustomerEmail   string     `json:"customer_email"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func viewBooking(b model.Booking) bookingView {
	v := bookingView{
		ID:              b.ID,
		ExperienceID:    b.ExperienceID,
		AvailabilityID:  b.AvailabilityID,
		Quantity:        b.Quantity,
		TotalPriceCents: b.TotalPriceCents,
		Currency:        b.Currency,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		IsEscalated:     b.IsEscalated,
		DeclineReason:   string(b.DeclineReason),
		CustomerName:    b.CustomerName,
		CustomerEmail:   b.CustomerEmail,
		CreatedAt:       b.CreatedAt,
	}
	if b.RefundStatus != model.RefundNone && b.RefundStatus != "" {
		v.RefundStatus = string(b.RefundStatus)
	}
	if !b.UpdatedAt.IsZero() {
		t := b.UpdatedAt
		v.UpdatedAt = &t
	}
	return v
}

func viewBookings(bs []model.Booking) []bookingView {
	out := make([]bookingView, 0, len(bs))
	for _, b := range bs {
		out = append(out, viewBooking(b))
	}
	return out
}

// outcomeView reports a side effect that did not succeed.  Successful
// side effects are not listed.
type outcomeView struct {
	Op    string `json:"op"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

func viewOutcomes(outcomes []service.Outcome) []outcomeView {
	var out []outcomeView
	for _, o := range outcomes {
		if o.OK() {
			continue
		}
		v := outcomeView{Op: o.Op, Kind: string(o.Kind)}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

type resolutionView struct {
	Booking  bookingView   `json:"booking"`
	Warnings []outcomeView `json:"warnings,omitempty"`
}

func viewResolution(r service.Resolution) resolutionView {
	return resolutionView{Booking: viewBooking(r.Booking), Warnings: viewOutcomes(r.Outcomes)}
}

type checkoutView struct {
	Booking      bookingView   `json:"booking"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Warnings     []outcomeView `json:"warnings,omitempty"`
}

func viewCheckout(co service.Checkout) checkoutView {
	return checkoutView{
		Booking:      viewBooking(co.Booking),
		ClientSecret: co.ClientSecret,
		Warnings:     viewOutcomes([]service.Outcome{co.Payment}),
	}
}

type voucherView struct {
	Booking          bookingView   `json:"booking"`
	VoucherCode      string        `json:"voucher_code"`
	VoucherType      string        `json:"voucher_type"`
	RemainingBalance int64         `json:"remaining_balance_cents"`
	ConsumedCents    int64         `json:"consumed_cents"`
	Warnings         []outcomeView `json:"warnings,omitempty"`
}

func viewVoucher(r service.VoucherResult) voucherView {
	return voucherView{
		Booking:          viewBooking(r.Booking),
		VoucherCode:      r.Voucher.Code,
		VoucherType:      string(r.Voucher.Type),
		RemainingBalance: r.Voucher.CurrentBalanceCents,
		ConsumedCents:    r.ConsumedCents,
		Warnings:         viewOutcomes(r.Outcomes),
	}
}

type sweepView struct {
	StartedAt      time.Time         `json:"started_at"`
	BusinessHours  bool              `json:"business_hours"`
	Threshold      string            `json:"threshold"`
	AlreadyRunning bool              `json:"already_running"`
	Candidates     int               `json:"candidates"`
	Actions        map[string]int    `json:"actions"`
	Failures       map[uint64]string `json:"failures,omitempty"`
}

func viewSweep(r service.SweepReport) sweepView {
	actions := make(map[string]int, len(r.Actions))
	for a, n := range r.Actions {
		actions[string(a)] = n
	}
	return sweepView{
		StartedAt:      r.StartedAt,
		BusinessHours:  r.BusinessHours,
		Threshold:      r.Threshold.String(),
		AlreadyRunning: r.AlreadyRunning,
		Candidates:     r.Candidates,
		Actions:        actions,
		Failures:       r.Failures,
	}
}
