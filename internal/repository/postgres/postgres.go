package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ChatOwnershipRepository    = (*Repository)(nil)
	_ repository.HostingProjectRepository   = (*Repository)(nil)
	_ repository.DomainOrderRepository      = (*Repository)(nil)
	_ repository.PaymentRepository          = (*Repository)(nil)
	_ repository.WebhookEventRepository     = (*Repository)(nil)
	_ repository.DNSConfigurationRepository = (*Repository)(nil)
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetChatOwnership resolves the owner of a chat.
func (r *Repository) GetChatOwnership(ctx context.Context, chatID string) (*domain.ChatOwnership, error) {
	const query = `SELECT chat_id, user_id, created_at FROM chat_ownerships WHERE chat_id = $1`
	var o domain.ChatOwnership
	if err := r.pool.QueryRow(ctx, query, chatID).Scan(&o.ChatID, &o.UserID, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// CreateHostingProject inserts the chat-to-project mapping. The unique
// constraint on chat_id keeps it to one active project per chat.
func (r *Repository) CreateHostingProject(ctx context.Context, p *domain.HostingProject) error {
	const query = `INSERT INTO hosting_projects
		(id, chat_id, project_id, project_name, deploy_url, custom_domain, status, last_deployed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query, p.ID, p.ChatID, p.ProjectID, p.ProjectName, p.DeployURL, p.CustomDomain,
		p.Status, p.LastDeployedAt, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

const hostingProjectColumns = `id, chat_id, project_id, project_name,
	COALESCE(deploy_url, ''), COALESCE(custom_domain, ''), status, last_deployed_at, created_at, updated_at`

func scanHostingProject(row pgx.Row) (*domain.HostingProject, error) {
	var p domain.HostingProject
	err := row.Scan(&p.ID, &p.ChatID, &p.ProjectID, &p.ProjectName, &p.DeployURL, &p.CustomDomain,
		&p.Status, &p.LastDeployedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetHostingProjectByChat fetches the mapping for a chat.
func (r *Repository) GetHostingProjectByChat(ctx context.Context, chatID string) (*domain.HostingProject, error) {
	query := `SELECT ` + hostingProjectColumns + ` FROM hosting_projects WHERE chat_id = $1`
	return scanHostingProject(r.pool.QueryRow(ctx, query, chatID))
}

// GetHostingProjectByID fetches a record by its own identifier.
func (r *Repository) GetHostingProjectByID(ctx context.Context, id string) (*domain.HostingProject, error) {
	query := `SELECT ` + hostingProjectColumns + ` FROM hosting_projects WHERE id = $1`
	return scanHostingProject(r.pool.QueryRow(ctx, query, id))
}

// UpdateHostingProject applies mutable deployment fields. Empty strings
// leave the stored value untouched.
func (r *Repository) UpdateHostingProject(ctx context.Context, u domain.HostingProjectUpdate) error {
	const query = `UPDATE hosting_projects SET
		deploy_url = COALESCE(NULLIF($2, ''), deploy_url),
		custom_domain = COALESCE(NULLIF($3, ''), custom_domain),
		status = COALESCE(NULLIF($4, ''), status),
		last_deployed_at = COALESCE($5, last_deployed_at),
		updated_at = $6
		WHERE chat_id = $1`
	tag, err := r.pool.Exec(ctx, query, u.ChatID, u.DeployURL, u.CustomDomain, u.Status, u.LastDeployedAt, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteHostingProjectByChat removes the mapping for a chat.
func (r *Repository) DeleteHostingProjectByChat(ctx context.Context, chatID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM hosting_projects WHERE chat_id = $1`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteHostingProjectByID removes a record by its identifier.
func (r *Repository) DeleteHostingProjectByID(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM hosting_projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDomainOrder persists a registrar purchase outcome.
func (r *Repository) CreateDomainOrder(ctx context.Context, o *domain.DomainOrder) error {
	const query = `INSERT INTO domain_orders
		(id, chat_id, domain, provider, provider_order, price, currency, period, status, nameservers,
		 contact_email_enc, contact_phone_enc, expires_at, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, query, o.ID, o.ChatID, o.Domain, o.Provider, o.ProviderOrder,
		o.Price, o.Currency, o.Period, o.Status, o.Nameservers, o.ContactEmail, o.ContactPhone,
		o.ExpiresAt, o.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetDomainOrderByDomain fetches the most recent order for a domain name.
func (r *Repository) GetDomainOrderByDomain(ctx context.Context, name string) (*domain.DomainOrder, error) {
	const query = `SELECT id, COALESCE(chat_id, ''), domain, provider, provider_order, price, currency, period,
		status, nameservers, contact_email_enc, contact_phone_enc, expires_at, created_at
		FROM domain_orders WHERE domain = $1 ORDER BY created_at DESC LIMIT 1`
	var o domain.DomainOrder
	err := r.pool.QueryRow(ctx, query, name).Scan(&o.ID, &o.ChatID, &o.Domain, &o.Provider, &o.ProviderOrder,
		&o.Price, &o.Currency, &o.Period, &o.Status, &o.Nameservers, &o.ContactEmail, &o.ContactPhone,
		&o.ExpiresAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// CreatePayment inserts a processor charge record.
func (r *Repository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	const query = `INSERT INTO payments
		(id, provider, chat_id, domain, customer_id, amount, currency, status, receipt_url, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`
	_, err := r.pool.Exec(ctx, query, p.ID, p.Provider, p.ChatID, p.Domain, p.CustomerID,
		p.Amount, p.Currency, p.Status, p.ReceiptURL, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetPaymentByID fetches a payment by the processor's id.
func (r *Repository) GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	const query = `SELECT id, provider, COALESCE(chat_id, ''), domain, customer_id, amount, currency, status,
		COALESCE(receipt_url, ''), created_at, updated_at
		FROM payments WHERE id = $1`
	var p domain.Payment
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Provider, &p.ChatID, &p.Domain, &p.CustomerID,
		&p.Amount, &p.Currency, &p.Status, &p.ReceiptURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdatePaymentStatus moves a payment through its lifecycle.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordWebhookEvent inserts a processor notification; replays return
// ErrDuplicate via the (provider, event_id) unique key.
func (r *Repository) RecordWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	const query = `INSERT INTO webhook_events
		(provider, event_id, event_type, payload, signature_valid, processed_at, processing_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`
	_, err := r.pool.Exec(ctx, query, e.Provider, e.EventID, e.EventType, e.Payload,
		e.SignatureValid, e.ProcessedAt, e.ProcessingError, e.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// MarkWebhookProcessed stamps an event with its processing outcome.
func (r *Repository) MarkWebhookProcessed(ctx context.Context, provider, eventID, processingError string) error {
	const query = `UPDATE webhook_events SET processed_at = $3, processing_error = NULLIF($4, '')
		WHERE provider = $1 AND event_id = $2`
	_, err := r.pool.Exec(ctx, query, provider, eventID, time.Now().UTC(), processingError)
	return err
}

// DeleteWebhookEvent drops an event row. Processing failures are
// released this way so the processor's retry re-enters processing
// instead of dying on the unique key.
func (r *Repository) DeleteWebhookEvent(ctx context.Context, provider, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`,
		provider, eventID)
	return err
}

// UpsertDNSConfiguration stores the applied record set for a domain.
func (r *Repository) UpsertDNSConfiguration(ctx context.Context, c *domain.DNSConfiguration) error {
	const query = `INSERT INTO dns_configurations
		(domain, target_url, custom_domain, ssl_enabled, provider, records, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (domain) DO UPDATE SET
			target_url = EXCLUDED.target_url,
			custom_domain = EXCLUDED.custom_domain,
			ssl_enabled = EXCLUDED.ssl_enabled,
			provider = EXCLUDED.provider,
			records = EXCLUDED.records,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, c.Domain, c.TargetURL, c.CustomDomain, c.SSLEnabled,
		c.Provider, c.Records, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetDNSConfiguration fetches the stored record set for a domain.
func (r *Repository) GetDNSConfiguration(ctx context.Context, name string) (*domain.DNSConfiguration, error) {
	const query = `SELECT domain, target_url, custom_domain, ssl_enabled, provider, records, created_at, updated_at
		FROM dns_configurations WHERE domain = $1`
	var c domain.DNSConfiguration
	err := r.pool.QueryRow(ctx, query, name).Scan(&c.Domain, &c.TargetURL, &c.CustomDomain, &c.SSLEnabled,
		&c.Provider, &c.Records, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
