// Package mailcheck verifies whether email addresses are plausibly
// deliverable without sending a message. Each address goes through a
// syntax check, an MX lookup and a partial SMTP handshake (EHLO, MAIL FROM,
// RCPT TO) against the domain's mail exchangers.
//
// Basic usage:
//
//	v := mailcheck.New(mailcheck.DefaultOptions())
//	rec, err := v.Verify(ctx, "user@example.com")
//
// Format and MX checks only:
//
//	opts := mailcheck.DefaultOptions()
//	opts.SkipSMTP = true
//	records, err := mailcheck.New(opts).VerifyMany(ctx, emails, mailcheck.ConcurrencyOptions{Workers: 8})
package mailcheck

import (
	"github.com/optimode/mailcheck/internal/cooldown"
	"github.com/optimode/mailcheck/internal/dnscache"
	"github.com/optimode/mailcheck/internal/smtpsession"
	"github.com/optimode/mailcheck/types"
)

// Record is a re-export from the types package so that consumers
// don't need to import the types package directly.
type Record = types.Record

// DomainStatus is a re-export.
type DomainStatus = types.DomainStatus

// SMTPStatus is a re-export.
type SMTPStatus = types.SMTPStatus

// Status constants re-exported.
const (
	DomainValid   = types.DomainValid
	DomainMissing = types.DomainMissing
	MXMissing     = types.MXMissing

	SMTPDeliverable   = types.SMTPDeliverable
	SMTPUndeliverable = types.SMTPUndeliverable
	SMTPTempfail      = types.SMTPTempfail
	SMTPUnknown       = types.SMTPUnknown
	SMTPSkipped       = types.SMTPSkipped
)

// MXCache holds resolved MX sets for the lifetime of a run.
// Verifiers that share one never resolve the same domain twice.
type MXCache = dnscache.Cache

// NewMXCache returns an empty MX cache.
func NewMXCache() *MXCache { return dnscache.New() }

// CooldownTable tracks mail hosts that recently failed at the transport level.
type CooldownTable = cooldown.Table

// NewCooldownTable returns an empty cooldown table.
func NewCooldownTable() *CooldownTable { return cooldown.New() }

// DialFunc opens the TCP connection to a mail host.
type DialFunc = smtpsession.DialFunc
