package domain

import "time"

// ContactAddress is the postal address registrars require for WHOIS contacts.
type ContactAddress struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// ContactInfo identifies the registrant.
type ContactInfo struct {
	FirstName string         `json:"firstName" validate:"required"`
	LastName  string         `json:"lastName" validate:"required"`
	Email     string         `json:"email" validate:"required,email"`
	Phone     string         `json:"phone" validate:"required"`
	Address   ContactAddress `json:"address" validate:"required"`
}

// PurchaseRequest asks a registrar to buy a domain for a number of years.
type PurchaseRequest struct {
	Domain      string      `json:"domain" validate:"required,fqdn"`
	Period      int         `json:"period" validate:"required,min=1,max=10"`
	ContactInfo ContactInfo `json:"contactInfo" validate:"required"`
	Nameservers []string    `json:"nameservers,omitempty"`
	AutoRenew   bool        `json:"autoRenew,omitempty"`
}

// PurchaseResult is the outcome of a registrar purchase call.
type PurchaseResult struct {
	Success     bool      `json:"success"`
	OrderID     string    `json:"orderId,omitempty"`
	Domain      string    `json:"domain"`
	Provider    string    `json:"provider,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Nameservers []string  `json:"nameservers"`
	Error       string    `json:"error,omitempty"`
}

// Domain order lifecycle.
const (
	OrderStatusRegistered = "registered"
	OrderStatusFailed     = "failed"
)

// DomainOrder is the persisted record of a registrar purchase. Contact
// email and phone are stored AES-GCM encrypted.
type DomainOrder struct {
	ID             string
	ChatID         string
	Domain         string
	Provider       string
	ProviderOrder  string
	Price          float64
	Currency       string
	Period         int
	Status         string
	Nameservers    []string
	ContactEmail   []byte
	ContactPhone   []byte
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
