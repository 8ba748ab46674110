package domain

import "time"

// InvoiceLineItem is one billable row of an invoice.
type InvoiceLineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

// InvoiceBreakdown summarizes what was charged and what was paid.
type InvoiceBreakdown struct {
	Subtotal    int64  `json:"subtotal"`
	CleaningFee int64  `json:"cleaning_fee"`
	ServiceFee  int64  `json:"service_fee"`
	Taxes       int64  `json:"taxes"`
	Total       int64  `json:"total"`
	AmountPaid  int64  `json:"amount_paid"`
	Currency    string `json:"currency"`
}

// Invoice is the confirmation document for a paid booking.
type Invoice struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	BookingID     string            `json:"booking_id"`
	PropertyID    string            `json:"property_id"`
	CheckIn       time.Time         `json:"check_in"`
	CheckOut      time.Time         `json:"check_out"`
	LineItems     []InvoiceLineItem `json:"line_items"`
	Breakdown     InvoiceBreakdown  `json:"breakdown"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Billing       BillingDetails    `json:"billing"`
	IssuedAt      time.Time         `json:"issued_at"`
}
