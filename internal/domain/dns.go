package domain

import "time"

// DNSRecord is a single zone entry.
type DNSRecord struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Priority int    `json:"priority,omitempty"`
}

// DNSConfiguration is the persisted record set applied for a purchased
// domain, pointing it at a deployment. Stored so re-applying an identical
// set is a no-op.
type DNSConfiguration struct {
	Domain       string      `json:"domain"`
	TargetURL    string      `json:"targetUrl"`
	CustomDomain string      `json:"customDomain"`
	SSLEnabled   bool        `json:"sslEnabled"`
	Provider     string      `json:"provider"`
	Records      []DNSRecord `json:"records"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// SameRecords reports whether the stored set already matches records.
func (c DNSConfiguration) SameRecords(records []DNSRecord) bool {
	if len(c.Records) != len(records) {
		return false
	}
	for i, r := range records {
		if c.Records[i] != r {
			return false
		}
	}
	return true
}
