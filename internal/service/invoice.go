package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"booking/internal/domain"
)

// InvoiceService builds confirmation invoices.
type InvoiceService struct {
	now Clock
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(now Clock) *InvoiceService {
	if now == nil {
		now = time.Now
	}
	return &InvoiceService{now: now}
}

// Build assembles the invoice for a confirmed booking. conf carries what the
// gateway collected; it is empty apart from the booking ID for offline payments.
func (s *InvoiceService) Build(b *domain.Booking, conf domain.PaymentConfirmation) *domain.Invoice {
	lines := make([]domain.InvoiceLineItem, 0, len(b.Segments)+3)
	for _, seg := range b.Segments {
		lines = append(lines, domain.InvoiceLineItem{
			Description: fmt.Sprintf("%s - %s", seg.StartDate.Format("Jan 02"), seg.EndDate.Format("Jan 02, 2006")),
			Quantity:    seg.Nights,
			UnitAmount:  seg.NightlyRate,
			Amount:      seg.Subtotal,
		})
	}
	lines = appendFee(lines, "Cleaning fee", b.Pricing.CleaningFee)
	lines = appendFee(lines, "Service fee", b.Pricing.ServiceFee)
	lines = appendFee(lines, "Taxes", b.Pricing.Taxes)

	currency := conf.Currency
	if currency == "" {
		currency = b.Pricing.Currency
	}

	issuedAt := s.now()
	billing := conf.Billing
	if billing.Name == "" {
		billing.Name = b.Customer.Name
	}
	if billing.Email == "" {
		billing.Email = b.Customer.Email
	}

	return &domain.Invoice{
		ID:         uuid.New().String(),
		Number:     invoiceNumber(b.ID, issuedAt),
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		CheckIn:    b.CheckIn,
		CheckOut:   b.CheckOut,
		LineItems:  lines,
		Breakdown: domain.InvoiceBreakdown{
			Subtotal:    b.Pricing.Subtotal,
			CleaningFee: b.Pricing.CleaningFee,
			ServiceFee:  b.Pricing.ServiceFee,
			Taxes:       b.Pricing.Taxes,
			Total:       b.Pricing.Total,
			AmountPaid:  conf.AmountPaid,
			Currency:    strings.ToUpper(currency),
		},
		PaymentMethod: b.PaymentMethod,
		Billing:       billing,
		IssuedAt:      issuedAt,
	}
}

func appendFee(lines []domain.InvoiceLineItem, desc string, amount int64) []domain.InvoiceLineItem {
	if amount == 0 {
		return lines
	}
	return append(lines, domain.InvoiceLineItem{
		Description: desc,
		Quantity:    1,
		UnitAmount:  amount,
		Amount:      amount,
	})
}

// invoiceNumber is stable for a booking on a given day.
func invoiceNumber(bookingID string, at time.Time) string {
	short := strings.ReplaceAll(bookingID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("INV-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(short))
}

// Format renders the invoice as plain text for email bodies.
func (s *InvoiceService) Format(inv *domain.Invoice) string {
	var sb strings.Builder
	sb.WriteString("=====================================\n")
	sb.WriteString("          BOOKING INVOICE\n")
	sb.WriteString("=====================================\n")
	fmt.Fprintf(&sb, "Invoice:   %s\n", inv.Number)
	fmt.Fprintf(&sb, "Booking:   %s\n", inv.BookingID)
	fmt.Fprintf(&sb, "Issued:    %s\n", inv.IssuedAt.Format("Jan 02, 2006 3:04 PM"))
	fmt.Fprintf(&sb, "Stay:      %s to %s\n\n", inv.CheckIn.Format("Jan 02, 2006"), inv.CheckOut.Format("Jan 02, 2006"))

	sb.WriteString("CHARGES\n")
	sb.WriteString("-------------------------------------\n")
	for _, li := range inv.LineItems {
		fmt.Fprintf(&sb, "%-24s %s\n", li.Description, formatAmount(li.Amount, inv.Breakdown.Currency))
	}
	sb.WriteString("-------------------------------------\n")
	fmt.Fprintf(&sb, "%-24s %s\n", "TOTAL", formatAmount(inv.Breakdown.Total, inv.Breakdown.Currency))
	if inv.Breakdown.AmountPaid > 0 {
		fmt.Fprintf(&sb, "%-24s %s\n", "PAID", formatAmount(inv.Breakdown.AmountPaid, inv.Breakdown.Currency))
	}

	sb.WriteString("\nPAYMENT\n")
	sb.WriteString("-------------------------------------\n")
	fmt.Fprintf(&sb, "Method: %s\n", inv.PaymentMethod)
	if inv.Billing.Name != "" {
		fmt.Fprintf(&sb, "Billed to: %s <%s>\n", inv.Billing.Name, inv.Billing.Email)
	}
	sb.WriteString("=====================================\n")
	return sb.String()
}

// formatAmount renders minor units with two decimals.
func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
