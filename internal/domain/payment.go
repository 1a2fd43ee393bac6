package domain

import "time"

// Payment provider identifiers.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderPayPal = "paypal"
)

// Payment lifecycle.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// PaymentRequest charges a customer for a domain purchase. Metadata rides
// along to the processor and comes back on the webhook; ChatID links the
// payment to the site it pays for.
type PaymentRequest struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Domain        string            `json:"domain"`
	ChatID        string            `json:"chatId"`
	CustomerID    string            `json:"customerId"`
	CustomerEmail string            `json:"customerEmail"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaymentResult reports a created or reconciled payment. ClientSecret is
// Stripe's confirmation handle; ApprovalURL is PayPal's redirect.
type PaymentResult struct {
	Success      bool    `json:"success"`
	PaymentID    string  `json:"paymentId,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status"`
	ClientSecret string  `json:"clientSecret,omitempty"`
	ApprovalURL  string  `json:"approvalUrl,omitempty"`
	Error        string  `json:"error,omitempty"`
	ReceiptURL   string  `json:"receiptUrl,omitempty"`
}

// Payment is the persisted charge record, keyed by the processor's id.
type Payment struct {
	ID         string
	Provider   string
	ChatID     string
	Domain     string
	CustomerID string
	Amount     float64
	Currency   string
	Status     string
	ReceiptURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WebhookEvent records a processor notification for idempotent handling.
// (Provider, EventID) is unique: webhooks are at-least-once and replays
// of a processed event must acknowledge without re-processing. Events
// whose processing failed are released again so the retry can re-drive
// them.
type WebhookEvent struct {
	Provider        string
	EventID         string
	EventType       string
	Payload         []byte
	SignatureValid  bool
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}

// CompletedPayment is the webhook-derived fact that drives fulfillment.
// PaymentID is the id the payments table is keyed by (Stripe's intent,
// PayPal's order). CaptureID is PayPal's capture resource, which is what
// its refund endpoint wants; it stays empty for Stripe.
type CompletedPayment struct {
	PaymentID  string
	CaptureID  string
	Provider   string
	Domain     string
	CustomerID string
	ChatID     string
}
