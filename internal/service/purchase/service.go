package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ArthurBarre/site-forge-clone/internal/crypto"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
)

// ErrPurchaseFailed wraps registrar rejections.
var ErrPurchaseFailed = errors.New("purchase: registrar rejected the order")

// Service buys domains through the cheapest enabled registrar and keeps
// the order on record with encrypted contact details.
type Service struct {
	registry      *registrar.Registry
	orders        repository.DomainOrderRepository
	validate      *validator.Validate
	encryptionKey string
	logger        *slog.Logger
}

func NewService(registry *registrar.Registry, orders repository.DomainOrderRepository, encryptionKey string, logger *slog.Logger) *Service {
	return &Service{
		registry:      registry,
		orders:        orders,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		encryptionKey: encryptionKey,
		logger:        logger.With("component", "purchase"),
	}
}

// Purchase validates the request, routes it to the cheapest provider for
// the TLD and persists the outcome. The chatID may be empty for direct
// purchases not tied to a deployed site.
func (s *Service) Purchase(ctx context.Context, chatID string, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("purchase: invalid request: %w", err)
	}
	_, tld := registrar.SplitDomain(req.Domain)
	provider, _, err := s.registry.CheapestFor(tld)
	if err != nil {
		return nil, err
	}

	s.logger.Info("purchasing domain", "domain", req.Domain, "provider", provider.Name(), "period", req.Period)
	result, err := provider.Purchase(ctx, req)
	if err != nil {
		s.recordOrder(ctx, chatID, req, &domain.PurchaseResult{
			Domain:   req.Domain,
			Provider: provider.Name(),
			Error:    err.Error(),
		}, domain.OrderStatusFailed)
		return nil, fmt.Errorf("%w: %s", ErrPurchaseFailed, err)
	}

	s.recordOrder(ctx, chatID, req, result, domain.OrderStatusRegistered)
	return result, nil
}

// recordOrder persists the order best-effort; a storage failure must not
// undo a registration that already went through.
func (s *Service) recordOrder(ctx context.Context, chatID string, req domain.PurchaseRequest, result *domain.PurchaseResult, status string) {
	order := &domain.DomainOrder{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		Domain:        req.Domain,
		Provider:      result.Provider,
		ProviderOrder: result.OrderID,
		Price:         result.Price,
		Currency:      result.Currency,
		Period:        req.Period,
		Status:        status,
		Nameservers:   result.Nameservers,
		ExpiresAt:     result.ExpiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if order.ExpiresAt.IsZero() {
		order.ExpiresAt = time.Now().UTC().AddDate(req.Period, 0, 0)
	}
	if s.encryptionKey != "" {
		if enc, err := crypto.Encrypt(s.encryptionKey, req.ContactInfo.Email); err == nil {
			order.ContactEmail = enc
		}
		if enc, err := crypto.Encrypt(s.encryptionKey, req.ContactInfo.Phone); err == nil {
			order.ContactPhone = enc
		}
	}
	if err := s.orders.CreateDomainOrder(ctx, order); err != nil {
		s.logger.Warn("order persistence failed", "domain", req.Domain, "error", err)
	}
}

// Order looks up the most recent order for a domain.
func (s *Service) Order(ctx context.Context, name string) (*domain.DomainOrder, error) {
	return s.orders.GetDomainOrderByDomain(ctx, name)
}
