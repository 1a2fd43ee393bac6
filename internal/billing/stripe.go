package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Sentinel errors shared by both payment providers.
var (
	ErrInvalidSignature = errors.New("billing: webhook signature invalid")
	ErrNotConfigured    = errors.New("billing: provider not configured")
)

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

// Stripe is a thin client over the Stripe REST API. Stripe takes
// form-encoded bodies, not JSON.
type Stripe struct {
	apiURL        string
	secretKey     string
	webhookSecret string
	http          *http.Client
	logger        *slog.Logger
}

func NewStripe(apiURL, secretKey, webhookSecret string, client *http.Client, logger *slog.Logger) *Stripe {
	return &Stripe{
		apiURL:        apiURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		http:          client,
		logger:        logger.With("payment_provider", "stripe"),
	}
}

func (s *Stripe) Name() string  { return domain.PaymentProviderStripe }
func (s *Stripe) Enabled() bool { return s.secretKey != "" }

func (s *Stripe) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.roundTrip(req, out)
}

func (s *Stripe) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	return s.roundTrip(req, out)
}

func (s *Stripe) roundTrip(req *http.Request, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe: %s", apiErr.Error.Message)
		}
		return fmt.Errorf("stripe api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EnsureCustomer finds a customer by email or creates one.
func (s *Stripe) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	var listed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := s.get(ctx, "/v1/customers?limit=1&email="+url.QueryEscape(email), &listed); err != nil {
		return "", err
	}
	if len(listed.Data) > 0 {
		return listed.Data[0].ID, nil
	}
	form := url.Values{"email": {email}}
	if name != "" {
		form.Set("name", name)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "/v1/customers", form, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// CreatePayment opens a payment intent in the minor unit of the currency.
func (s *Stripe) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	form := url.Values{
		"amount":               {strconv.FormatInt(int64(math.Round(req.Amount*100)), 10)},
		"currency":             {strings.ToLower(req.Currency)},
		"description":          {req.Description},
		"metadata[domain]":     {req.Domain},
		"metadata[customerId]": {req.CustomerID},
	}
	if req.ChatID != "" {
		form.Set("metadata[chatId]", req.ChatID)
	}
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var intent struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
	}
	if err := s.post(ctx, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &domain.PaymentResult{
		Success:      true,
		PaymentID:    intent.ID,
		Provider:     s.Name(),
		ClientSecret: intent.ClientSecret,
		Status:       domain.PaymentStatusPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

// Refund reverses a payment intent in full.
func (s *Stripe) Refund(ctx context.Context, paymentID string) error {
	form := url.Values{"payment_intent": {paymentID}}
	return s.post(ctx, "/v1/refunds", form, nil)
}

// GetPayment reads a payment intent's current status.
func (s *Stripe) GetPayment(ctx context.Context, paymentID string) (string, error) {
	var intent struct {
		Status string `json:"status"`
	}
	if err := s.get(ctx, "/v1/payment_intents/"+url.PathEscape(paymentID), &intent); err != nil {
		return "", err
	}
	return intent.Status, nil
}

// VerifySignature checks the Stripe-Signature header (t=...,v1=...)
// against the raw body using the webhook secret, rejecting timestamps
// outside the tolerance window.
func (s *Stripe) VerifySignature(header string, body []byte, now time.Time) error {
	if s.webhookSecret == "" {
		return ErrNotConfigured
	}
	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}
	epoch, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.Unix(epoch, 0)
	if now.Sub(signedAt) > signatureTolerance || signedAt.Sub(now) > signatureTolerance {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
