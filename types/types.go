// Package types contains the shared types for mailcheck.
// This package does not import anything from other mailcheck packages
// to avoid circular imports.
package types

import (
	"fmt"
	"slices"
)

// DomainStatus is the outcome of the format and MX stages.
type DomainStatus string

const (
	DomainValid   DomainStatus = "valid"
	DomainMissing DomainStatus = "domain_missing"
	MXMissing     DomainStatus = "mx_missing"
)

var domainStatuses = []DomainStatus{DomainValid, DomainMissing, MXMissing}

// ParseDomainStatus returns the DomainStatus named by s.
// Any value outside the closed set is rejected.
func ParseDomainStatus(s string) (DomainStatus, error) {
	st := DomainStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown domain status %q", s)
	}
	return st, nil
}

// IsValid reports whether s is one of the known domain statuses.
func (s DomainStatus) IsValid() bool {
	return slices.Contains(domainStatuses, s)
}

func (s DomainStatus) String() string { return string(s) }

func (s DomainStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("unknown domain status %q", string(s))
	}
	return []byte(s), nil
}

func (s *DomainStatus) UnmarshalText(b []byte) error {
	st, err := ParseDomainStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// SMTPStatus is the verdict of the SMTP stage.
type SMTPStatus string

const (
	SMTPDeliverable   SMTPStatus = "deliverable"
	SMTPUndeliverable SMTPStatus = "undeliverable"
	SMTPTempfail      SMTPStatus = "tempfail"
	SMTPUnknown       SMTPStatus = "unknown"
	SMTPSkipped       SMTPStatus = "skipped"
)

var smtpStatuses = []SMTPStatus{SMTPDeliverable, SMTPUndeliverable, SMTPTempfail, SMTPUnknown, SMTPSkipped}

// ParseSMTPStatus returns the SMTPStatus named by s.
// Any value outside the closed set is rejected.
func ParseSMTPStatus(s string) (SMTPStatus, error) {
	st := SMTPStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown smtp status %q", s)
	}
	return st, nil
}

// IsValid reports whether s is one of the known SMTP statuses.
func (s SMTPStatus) IsValid() bool {
	return slices.Contains(smtpStatuses, s)
}

// Conclusive reports whether the status answers the mailbox question.
func (s SMTPStatus) Conclusive() bool {
	return s == SMTPDeliverable || s == SMTPUndeliverable
}

func (s SMTPStatus) String() string { return string(s) }

func (s SMTPStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("unknown smtp status %q", string(s))
	}
	return []byte(s), nil
}

func (s *SMTPStatus) UnmarshalText(b []byte) error {
	st, err := ParseSMTPStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// MXHost is one mail exchanger of a domain.
// Host carries no trailing dot.
type MXHost struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// Record is the outcome of verifying one address.
type Record struct {
	Email        string       `json:"email"`
	Domain       string       `json:"domain"`
	DomainStatus DomainStatus `json:"domain_status"`
	MXHosts      []string     `json:"mx_hosts"`
	SMTPStatus   SMTPStatus   `json:"smtp_status"`
	SMTPDetail   string       `json:"smtp_detail"`
}
