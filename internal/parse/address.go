package parse

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmpty       = errors.New("empty email address")
	ErrAtCount     = errors.New("address must contain exactly one @")
	ErrEmptyLocal  = errors.New("local part is empty")
	ErrEmptyDomain = errors.New("domain is empty")
	ErrDomainIDNA  = errors.New("domain is not a valid internationalized name")
)

// Address is the split form of an email address.
// The check/ package validates it further.
type Address struct {
	Raw           string // the original, trimmed input
	Local         string // the part before @
	Domain        string // the part after @, lower-cased ASCII/Punycode form (for DNS/SMTP)
	DomainUnicode string // the part after @, Unicode form (for display)
}

// String returns the address in the form used on the wire.
func (a Address) String() string {
	return a.Local + "@" + a.Domain
}

// Split trims raw and splits it at its single @.
// Internationalized domains (IDNA2008) are converted to Punycode.
func Split(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, ErrEmpty
	}
	if strings.Count(raw, "@") != 1 {
		return Address{Raw: raw}, ErrAtCount
	}

	local, domain, _ := strings.Cut(raw, "@")
	if local == "" {
		return Address{Raw: raw}, ErrEmptyLocal
	}
	if domain == "" {
		return Address{Raw: raw}, ErrEmptyDomain
	}

	asciiDomain, unicodeDomain, ok := convertDomain(strings.ToLower(domain))
	if !ok {
		return Address{Raw: raw, Local: local, Domain: strings.ToLower(domain)}, ErrDomainIDNA
	}

	return Address{
		Raw:           raw,
		Local:         local,
		Domain:        asciiDomain,
		DomainUnicode: unicodeDomain,
	}, nil
}

// convertDomain converts a domain to both ASCII/Punycode and Unicode forms.
// Returns (ascii, unicode, ok). ok is false if the domain contains
// non-ASCII characters that fail IDNA2008 validation.
func convertDomain(domain string) (ascii, unicode string, ok bool) {
	hasNonASCII := false
	for _, r := range domain {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}

	if hasNonASCII {
		a, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", "", false
		}
		return a, domain, true
	}

	// Pure ASCII domain: try to get Unicode display form
	// (handles existing Punycode like xn--mnchen-3ya.de → münchen.de)
	u, err := idna.Display.ToUnicode(domain)
	if err != nil {
		u = domain
	}
	return domain, u, true
}
