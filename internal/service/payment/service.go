package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ArthurBarre/site-forge-clone/internal/billing"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
)

var (
	// ErrNoPaymentProvider means neither processor is configured.
	ErrNoPaymentProvider = errors.New("payment: no payment provider configured")
	// ErrInvalidSignature mirrors billing.ErrInvalidSignature for handlers.
	ErrInvalidSignature = billing.ErrInvalidSignature
)

// Processor is the payment provider surface the service needs.
type Processor interface {
	Name() string
	Enabled() bool
	CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error)
	Refund(ctx context.Context, paymentID string) error
}

// Fulfiller completes the purchase after a successful payment.
type Fulfiller interface {
	Fulfill(ctx context.Context, completed domain.CompletedPayment) ([]string, error)
}

// PurchaseStasher keeps the purchase request until the webhook lands.
type PurchaseStasher interface {
	Stash(ctx context.Context, paymentID string, req domain.PurchaseRequest) error
}

// CreateRequest opens a payment for a domain purchase.
type CreateRequest struct {
	Provider string                 `json:"provider,omitempty"`
	Payment  domain.PaymentRequest  `json:"payment" validate:"required"`
	Purchase domain.PurchaseRequest `json:"purchase" validate:"required"`
}

// Service orchestrates charges and their completion webhooks. Stripe is
// preferred when both processors are configured.
type Service struct {
	stripe    *billing.Stripe
	paypal    *billing.PayPal
	payments  repository.PaymentRepository
	events    repository.WebhookEventRepository
	fulfiller Fulfiller
	stash     PurchaseStasher
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewService(stripe *billing.Stripe, paypal *billing.PayPal, payments repository.PaymentRepository, events repository.WebhookEventRepository, fulfiller Fulfiller, stash PurchaseStasher, logger *slog.Logger) *Service {
	return &Service{
		stripe:    stripe,
		paypal:    paypal,
		payments:  payments,
		events:    events,
		fulfiller: fulfiller,
		stash:     stash,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("component", "payment"),
	}
}

// processorFor honors an explicit provider choice, otherwise prefers
// Stripe.
func (s *Service) processorFor(name string) (Processor, error) {
	switch name {
	case domain.PaymentProviderStripe:
		if s.stripe.Enabled() {
			return s.stripe, nil
		}
	case domain.PaymentProviderPayPal:
		if s.paypal.Enabled() {
			return s.paypal, nil
		}
	case "":
		if s.stripe.Enabled() {
			return s.stripe, nil
		}
		if s.paypal.Enabled() {
			return s.paypal, nil
		}
	}
	return nil, ErrNoPaymentProvider
}

// Create opens the payment, persists it pending and stashes the purchase
// request for the completion webhook.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.PaymentResult, error) {
	if err := s.validate.Struct(req.Purchase); err != nil {
		return nil, fmt.Errorf("payment: invalid purchase request: %w", err)
	}
	processor, err := s.processorFor(req.Provider)
	if err != nil {
		return nil, err
	}

	payment := req.Payment
	if payment.Domain == "" {
		payment.Domain = req.Purchase.Domain
	}
	if payment.CustomerEmail == "" {
		payment.CustomerEmail = req.Purchase.ContactInfo.Email
	}
	if payment.Description == "" {
		payment.Description = fmt.Sprintf("Domain registration %s (%d year)", payment.Domain, req.Purchase.Period)
	}
	if s.stripe.Enabled() && processor.Name() == domain.PaymentProviderStripe && payment.CustomerID == "" {
		name := req.Purchase.ContactInfo.FirstName + " " + req.Purchase.ContactInfo.LastName
		customerID, err := s.stripe.EnsureCustomer(ctx, payment.CustomerEmail, name)
		if err != nil {
			return nil, err
		}
		payment.CustomerID = customerID
	}

	result, err := processor.CreatePayment(ctx, payment)
	if err != nil {
		return nil, err
	}

	record := &domain.Payment{
		ID:         result.PaymentID,
		Provider:   processor.Name(),
		ChatID:     payment.ChatID,
		Domain:     payment.Domain,
		CustomerID: payment.CustomerID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Status:     domain.PaymentStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.payments.CreatePayment(ctx, record); err != nil {
		return nil, fmt.Errorf("payment: persisting charge: %w", err)
	}
	if err := s.stash.Stash(ctx, result.PaymentID, req.Purchase); err != nil {
		s.logger.Warn("stashing purchase request failed", "payment_id", result.PaymentID, "error", err)
	}
	s.logger.Info("payment created", "payment_id", result.PaymentID, "provider", processor.Name(), "amount", payment.Amount)
	return result, nil
}

// stripeEvent is the subset of Stripe's event envelope the handler reads.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// HandleStripeWebhook verifies, deduplicates and processes a Stripe
// notification. Replays acknowledge without side effects.
func (s *Service) HandleStripeWebhook(ctx context.Context, signature string, body []byte) error {
	if err := s.stripe.VerifySignature(signature, body, time.Now()); err != nil {
		return err
	}
	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("payment: decoding stripe event: %w", err)
	}
	if event.ID == "" {
		return errors.New("payment: stripe event without id")
	}

	if err := s.recordEvent(ctx, domain.PaymentProviderStripe, event.ID, event.Type, body); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Info("stripe webhook replay ignored", "event_id", event.ID)
			return nil
		}
		return err
	}

	var processingErr error
	switch event.Type {
	case "payment_intent.succeeded":
		completed := domain.CompletedPayment{
			PaymentID:  event.Data.Object.ID,
			Provider:   domain.PaymentProviderStripe,
			Domain:     event.Data.Object.Metadata["domain"],
			CustomerID: event.Data.Object.Metadata["customerId"],
			ChatID:     event.Data.Object.Metadata["chatId"],
		}
		processingErr = s.completePayment(ctx, completed)
	case "payment_intent.payment_failed":
		processingErr = s.payments.UpdatePaymentStatus(ctx, event.Data.Object.ID, domain.PaymentStatusFailed)
	default:
		s.logger.Debug("stripe event ignored", "type", event.Type)
	}

	return s.settleEvent(ctx, domain.PaymentProviderStripe, event.ID, processingErr)
}

// paypalEvent is the subset of PayPal's webhook envelope the handler reads.
type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// HandlePayPalWebhook verifies against PayPal's API, deduplicates and
// processes the notification.
func (s *Service) HandlePayPalWebhook(ctx context.Context, headers billing.WebhookHeaders, body []byte) error {
	if err := s.paypal.VerifyWebhook(ctx, headers, body); err != nil {
		return err
	}
	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("payment: decoding paypal event: %w", err)
	}
	if event.ID == "" {
		return errors.New("payment: paypal event without id")
	}

	if err := s.recordEvent(ctx, domain.PaymentProviderPayPal, event.ID, event.EventType, body); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Info("paypal webhook replay ignored", "event_id", event.ID)
			return nil
		}
		return err
	}

	var processingErr error
	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		// The buyer approved; capture server-side. Completion arrives
		// later as PAYMENT.CAPTURE.COMPLETED.
		processingErr = s.paypal.CaptureOrder(ctx, event.Resource.ID)
		if processingErr == nil {
			s.logger.Info("paypal order captured", "order_id", event.Resource.ID)
		}
	case "PAYMENT.CAPTURE.COMPLETED":
		// The resource is the capture; the payments table is keyed by
		// the order id it belongs to.
		paymentID := event.Resource.SupplementaryData.RelatedIDs.OrderID
		if paymentID == "" {
			paymentID = event.Resource.ID
		}
		completed := domain.CompletedPayment{
			PaymentID: paymentID,
			CaptureID: event.Resource.ID,
			Provider:  domain.PaymentProviderPayPal,
		}
		var meta struct {
			Domain     string `json:"domain"`
			CustomerID string `json:"customerId"`
			ChatID     string `json:"chatId"`
		}
		if event.Resource.CustomID != "" && json.Unmarshal([]byte(event.Resource.CustomID), &meta) == nil {
			completed.Domain = meta.Domain
			completed.CustomerID = meta.CustomerID
			completed.ChatID = meta.ChatID
		}
		processingErr = s.completePayment(ctx, completed)
	case "PAYMENT.CAPTURE.DENIED":
		processingErr = s.payments.UpdatePaymentStatus(ctx, event.Resource.ID, domain.PaymentStatusFailed)
	default:
		s.logger.Debug("paypal event ignored", "type", event.EventType)
	}

	return s.settleEvent(ctx, domain.PaymentProviderPayPal, event.ID, processingErr)
}

// completePayment marks the charge completed, fulfills it and refunds as
// compensation if fulfillment cannot register the domain.
func (s *Service) completePayment(ctx context.Context, completed domain.CompletedPayment) error {
	if err := s.confirmCaptured(ctx, completed); err != nil {
		return err
	}
	if err := s.payments.UpdatePaymentStatus(ctx, completed.PaymentID, domain.PaymentStatusCompleted); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	warnings, err := s.fulfiller.Fulfill(ctx, completed)
	if err != nil {
		s.logger.Error("fulfillment failed, refunding", "payment_id", completed.PaymentID, "domain", completed.Domain, "error", err)
		if refundErr := s.refund(ctx, completed); refundErr != nil {
			s.logger.Error("refund failed", "payment_id", completed.PaymentID, "error", refundErr)
			return fmt.Errorf("payment: fulfillment failed (%s) and refund failed: %w", err, refundErr)
		}
		if markErr := s.payments.UpdatePaymentStatus(ctx, completed.PaymentID, domain.PaymentStatusRefunded); markErr != nil && !errors.Is(markErr, repository.ErrNotFound) {
			s.logger.Warn("refunded payment not marked", "payment_id", completed.PaymentID, "error", markErr)
		}
		return fmt.Errorf("payment: fulfillment failed, payment refunded: %w", err)
	}
	for _, warning := range warnings {
		s.logger.Warn("fulfillment warning", "payment_id", completed.PaymentID, "warning", warning)
	}
	return nil
}

func (s *Service) refund(ctx context.Context, completed domain.CompletedPayment) error {
	switch completed.Provider {
	case domain.PaymentProviderStripe:
		return s.stripe.Refund(ctx, completed.PaymentID)
	case domain.PaymentProviderPayPal:
		// PayPal refunds the capture, not the order.
		captureID := completed.CaptureID
		if captureID == "" {
			captureID = completed.PaymentID
		}
		return s.paypal.Refund(ctx, captureID)
	}
	return fmt.Errorf("payment: unknown provider %q", completed.Provider)
}

const (
	captureConfirmAttempts = 3
	captureConfirmBackoff  = 500 * time.Millisecond
)

// confirmCaptured re-reads the intent from Stripe before fulfillment
// starts; the success webhook can outrun Stripe's own state. A PayPal
// completion is already a capture fact and needs no second look.
func (s *Service) confirmCaptured(ctx context.Context, completed domain.CompletedPayment) error {
	if completed.Provider != domain.PaymentProviderStripe {
		return nil
	}
	var status string
	var err error
	for attempt := 0; attempt < captureConfirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(captureConfirmBackoff):
			}
		}
		status, err = s.stripe.GetPayment(ctx, completed.PaymentID)
		if err == nil && status == "succeeded" {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("payment: confirming capture of %s: %w", completed.PaymentID, err)
	}
	return fmt.Errorf("payment: intent %s not captured (status %q)", completed.PaymentID, status)
}

func (s *Service) recordEvent(ctx context.Context, provider, eventID, eventType string, body []byte) error {
	return s.events.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		Provider:       provider,
		EventID:        eventID,
		EventType:      eventType,
		Payload:        body,
		SignatureValid: true,
		CreatedAt:      time.Now().UTC(),
	})
}

// settleEvent finalizes the dedup row. Success stamps it processed;
// failure deletes it so the processor's retry re-enters processing
// instead of being swallowed as a replay.
func (s *Service) settleEvent(ctx context.Context, provider, eventID string, processingErr error) error {
	if processingErr != nil {
		if err := s.events.DeleteWebhookEvent(ctx, provider, eventID); err != nil {
			s.logger.Warn("failed webhook event not released for retry", "provider", provider, "event_id", eventID, "error", err)
		}
		return processingErr
	}
	if err := s.events.MarkWebhookProcessed(ctx, provider, eventID, ""); err != nil {
		s.logger.Warn("webhook event not marked processed", "provider", provider, "event_id", eventID, "error", err)
	}
	return nil
}

// Payment looks up a persisted charge.
func (s *Service) Payment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.GetPaymentByID(ctx, id)
}
