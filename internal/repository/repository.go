package repository

import (
	"context"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// ChatOwnershipRepository resolves which user owns a chat.
type ChatOwnershipRepository interface {
	GetChatOwnership(ctx context.Context, chatID string) (*domain.ChatOwnership, error)
}

// HostingProjectRepository persists the chat-to-hosting-project mapping.
// The store guarantees at most one row per chat.
type HostingProjectRepository interface {
	CreateHostingProject(ctx context.Context, project *domain.HostingProject) error
	GetHostingProjectByChat(ctx context.Context, chatID string) (*domain.HostingProject, error)
	GetHostingProjectByID(ctx context.Context, id string) (*domain.HostingProject, error)
	UpdateHostingProject(ctx context.Context, update domain.HostingProjectUpdate) error
	DeleteHostingProjectByChat(ctx context.Context, chatID string) error
	DeleteHostingProjectByID(ctx context.Context, id string) error
}

// DomainOrderRepository stores registrar purchase outcomes.
type DomainOrderRepository interface {
	CreateDomainOrder(ctx context.Context, order *domain.DomainOrder) error
	GetDomainOrderByDomain(ctx context.Context, name string) (*domain.DomainOrder, error)
}

// PaymentRepository stores processor charges.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id, status string) error
}

// WebhookEventRepository records processor notifications for dedup.
// RecordWebhookEvent returns ErrDuplicate when (provider, event id) was
// already seen. DeleteWebhookEvent releases an event whose processing
// failed so the processor's retry is not mistaken for a replay.
type WebhookEventRepository interface {
	RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, provider, eventID, processingError string) error
	DeleteWebhookEvent(ctx context.Context, provider, eventID string) error
}

// DNSConfigurationRepository stores applied DNS record sets so repeated
// configuration is idempotent.
type DNSConfigurationRepository interface {
	UpsertDNSConfiguration(ctx context.Context, cfg *domain.DNSConfiguration) error
	GetDNSConfiguration(ctx context.Context, name string) (*domain.DNSConfiguration, error)
}
