package check

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/optimode/mailcheck/internal/parse"
)

// FormatError reports why an input is not a usable email address.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid email %q: %s", e.Input, e.Reason)
}

// IsFormatError reports whether err is (or wraps) a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Normalize validates raw according to RFC 5321 length limits, a
// conservative hostname grammar for the domain, and RFC 6531 (SMTPUTF8)
// for the local part. It performs no network calls.
func Normalize(raw string) (parse.Address, error) {
	addr, err := parse.Split(raw)
	if err != nil {
		return addr, &FormatError{Input: strings.TrimSpace(raw), Reason: err.Error()}
	}

	fail := func(reason string) (parse.Address, error) {
		return addr, &FormatError{Input: addr.Raw, Reason: reason}
	}

	// Length checks (RFC 5321)
	if len(addr.Local)+1+len(addr.Domain) > 254 {
		return fail("email address exceeds 254 characters")
	}
	if len(addr.Local) > 64 {
		return fail("local part exceeds 64 characters")
	}

	if reason := validateLocal(addr.Local); reason != "" {
		return fail(reason)
	}
	if reason := validateDomain(addr.Domain); reason != "" {
		return fail(reason)
	}

	return addr, nil
}

// validateLocal validates the local part.
// Supports RFC 5321 ASCII characters and RFC 6531 (SMTPUTF8) Unicode characters.
// Returns error text, or "" if ok.
func validateLocal(local string) string {
	// RFC 5321 ASCII special characters (besides alphanumeric)
	asciiSpecial := "!#$%&'*+/=?^_`{|}~-."

	for _, ch := range local {
		if ch > 127 {
			if unicode.IsControl(ch) || unicode.IsSpace(ch) {
				return "local part contains control character"
			}
			continue
		}
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		if !strings.ContainsRune(asciiSpecial, ch) {
			return "local part contains invalid character: " + string(ch)
		}
	}

	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "local part cannot start or end with a dot"
	}
	if strings.Contains(local, "..") {
		return "local part cannot contain consecutive dots"
	}

	return ""
}

// validateDomain validates the ASCII (Punycode) form of the domain.
// Returns error text, or "" if ok.
func validateDomain(domain string) string {
	if domain == "" {
		return "domain is empty"
	}
	if len(domain) > 255 {
		return "domain exceeds 255 characters"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain must have at least two labels"
	}

	for _, label := range labels {
		if label == "" {
			return "domain contains empty label"
		}
		if len(label) > 63 {
			return "domain label exceeds 63 characters"
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "domain label cannot start or end with a hyphen"
		}
		for _, ch := range label {
			if !isASCIIAlnum(ch) && ch != '-' {
				return "domain label contains invalid character: " + string(ch)
			}
		}
	}

	tld := labels[len(labels)-1]
	if strings.HasPrefix(tld, "xn--") {
		return ""
	}
	for _, ch := range tld {
		if !isASCIILetter(ch) {
			return "top-level domain must be alphabetic"
		}
	}

	return ""
}

func isASCIILetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isASCIIAlnum(ch rune) bool {
	return isASCIILetter(ch) || (ch >= '0' && ch <= '9')
}
