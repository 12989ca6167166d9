package notify

import (
	"fmt"
	"strings"
)

// Render returns the subject and plain text body for m.  SMS delivery
// uses the body only.
func Render(m Message) (subject, body string) {
	amount := FormatAmount(m.AmountCents, m.Currency)
	switch m.Kind {
	case KindBookingConfirmed:
		subject = fmt.Sprintf("Booking #%d confirmed", m.BookingID)
		body = fmt.Sprintf("Hi %s, your booking #%d for %s (%d guests) is confirmed.",
			m.To.Name, m.BookingID, m.ExperienceTitle, m.Quantity)
	case KindBookingDeclined:
		subject = fmt.Sprintf("Booking #%d declined", m.BookingID)
		var b strings.Builder
		fmt.Fprintf(&b, "Hi %s, your booking #%d for %s could not be accepted", m.To.Name, m.BookingID, m.ExperienceTitle)
		if m.Reason != "" {
			fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(m.Reason, "_", " "))
		}
		b.WriteString(".")
		if m.Refunded {
			fmt.Fprintf(&b, " A refund of %s has been issued.", amount)
		}
		body = b.String()
	case KindVendorNewRequest:
		subject = fmt.Sprintf("New booking request #%d", m.BookingID)
		body = fmt.Sprintf("%s requested %d places on %s (booking #%d, %s). Please confirm or decline.",
			m.Note, m.Quantity, m.ExperienceTitle, m.BookingID, amount)
	case KindPaymentReceipt:
		subject = fmt.Sprintf("Payment received for booking #%d", m.BookingID)
		body = fmt.Sprintf("Hi %s, we received %s for %s (booking #%d).",
			m.To.Name, amount, m.ExperienceTitle, m.BookingID)
	case KindVoucherDelivery:
		subject = "You have received a gift voucher"
		var b strings.Builder
		fmt.Fprintf(&b, "Hi %s, ", m.To.Name)
		if m.SenderName != "" {
			fmt.Fprintf(&b, "%s sent you a voucher", m.SenderName)
		} else {
			b.WriteString("here is your voucher")
		}
		if m.ExperienceTitle != "" {
			fmt.Fprintf(&b, " for %s", m.ExperienceTitle)
		} else if m.AmountCents > 0 {
			fmt.Fprintf(&b, " worth %s", amount)
		}
		fmt.Fprintf(&b, ". Code: %s.", m.VoucherCode)
		if m.Note != "" {
			fmt.Fprintf(&b, " Message: %q", m.Note)
		}
		body = b.String()
	case KindBookingEscalated:
		subject = fmt.Sprintf("Booking #%d needs attention", m.BookingID)
		body = fmt.Sprintf("Booking #%d for %s was not answered by the vendor in time and has been escalated.",
			m.BookingID, m.ExperienceTitle)
	default:
		subject = string(m.Kind)
		body = fmt.Sprintf("Notification %s for booking #%d.", m.Kind, m.BookingID)
	}
	return subject, body
}

// FormatAmount renders minor units as "12.50 EUR".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}
