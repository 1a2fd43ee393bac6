package registrar

import (
	"context"
	"strings"

	"github.com/likexian/whois"
)

// Prober answers availability when no registrar API can. The production
// implementation shells out to WHOIS.
type Prober interface {
	Probe(ctx context.Context, fqdn string) (available bool, err error)
}

// Patterns that mark a WHOIS answer as registered. Checked before the
// available patterns because registries disagree wildly on phrasing.
var takenPatterns = []string{
	"registrar:",
	"registrant:",
	"creation date:",
	"created:",
	"registry expiry date:",
	"expiration date:",
	"name server:",
	"nameserver:",
	"nserver:",
	"dnssec:",
	"domain status:",
}

var availablePatterns = []string{
	"no match for",
	"not found",
	"no entries found",
	"domain not found",
	"no data found",
	"status: free",
	"status: available",
	"no object found",
	"object does not exist",
	"is available for registration",
	"domain is available",
	"the queried object does not exist",
	"no such domain",
	"domain name has not been registered",
	"no matching record",
}

// WhoisProber classifies raw WHOIS output with pattern lists.
type WhoisProber struct {
	lookup func(domain string, servers ...string) (string, error)
}

func NewWhoisProber() *WhoisProber {
	return &WhoisProber{lookup: whois.Whois}
}

func (w *WhoisProber) Probe(ctx context.Context, fqdn string) (bool, error) {
	type answer struct {
		raw string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		raw, err := w.lookup(fqdn)
		ch <- answer{raw: raw, err: err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, a.err
		}
		return classifyWhois(a.raw)
	}
}

func classifyWhois(raw string) (bool, error) {
	lower := strings.ToLower(raw)
	for _, p := range takenPatterns {
		if strings.Contains(lower, p) {
			return false, nil
		}
	}
	// Premium and reserved names are listed without registrant data but
	// cannot actually be bought.
	if strings.Contains(lower, "premium") || strings.Contains(lower, "reserved") {
		return false, nil
	}
	for _, p := range availablePatterns {
		if strings.Contains(lower, p) {
			return true, nil
		}
	}
	return false, ErrIndeterminate
}
