package mailcheck

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/optimode/mailcheck/check"
)

// Options configures a Verifier.
//
// Zero values are replaced by the defaults from DefaultOptions. Durations
// where zero is meaningful (DomainPause, the retry delays and
// SMTPHostCooldown) are disabled by setting them to a negative value.
type Options struct {
	// Timeout bounds every network operation: one DNS query, the SMTP
	// connect, and each SMTP reply. Default: 8s
	Timeout time.Duration `validate:"gte=0"`
	// MaxMXTries caps how many MX hosts are probed per address. Default: 2
	MaxMXTries int `validate:"gte=0"`
	// DomainPause is slept after each address that reached the network. Default: 300ms
	DomainPause time.Duration
	// MailFrom is the address sent in MAIL FROM. Default: verify@yourdomain.test
	MailFrom string
	// HeloHost is the name sent in EHLO/HELO. Default: localhost
	HeloHost string `validate:"hostname_rfc1123"`
	// DNSServers are queried round-robin, e.g. "1.1.1.1" or "9.9.9.9:53".
	// Default: the system resolver
	DNSServers []string
	// DNSRetries is the number of attempts per MX resolution. Default: 2
	DNSRetries int `validate:"gte=0"`
	// SkipSMTP stops after the MX stage. Default: false
	SkipSMTP bool
	// SMTPRetries is the number of attempts per MX host. Default: 2
	SMTPRetries int `validate:"gte=0"`
	// SMTPHostCooldown is how long a host is skipped after a timeout or
	// network error. Default: 5m
	SMTPHostCooldown time.Duration
	// DNSRetryDelay is the pause between DNS attempts. Default: 250ms
	DNSRetryDelay time.Duration
	// SMTPRetryDelay is the pause between attempts against one host. Default: 350ms
	SMTPRetryDelay time.Duration
	// FallbackToA when true treats a domain without MX but with an address
	// record as its own mail host. Default: false (strict MX requirement)
	FallbackToA bool
	// TryStartTLS upgrades the session when the host offers STARTTLS. Default: false
	TryStartTLS bool
	// Port is the SMTP port. Default: 25
	Port string `validate:"numeric"`
	// Proxy routes SMTP connections through a SOCKS5 proxy,
	// e.g. "socks5://127.0.0.1:1080". Default: direct
	Proxy string `validate:"omitempty,url"`
	// ProbeRate limits new SMTP connections per second across all workers.
	// Default: 0 (unlimited)
	ProbeRate float64 `validate:"gte=0"`
	// Logger receives debug and warning entries. Default: discarded
	Logger logrus.FieldLogger `validate:"-"`

	// MXCache and Cooldowns share state between Verifiers. A fresh store
	// is created when nil.
	MXCache   *MXCache       `validate:"-"`
	Cooldowns *CooldownTable `validate:"-"`
	// MXSources replaces DNSServers with custom lookup implementations.
	MXSources []check.MXSource `validate:"-"`
	// Dial replaces the network dialer (and Proxy) for SMTP connections.
	Dial DialFunc `validate:"-"`
}

// DefaultOptions returns the defaults of every field.
func DefaultOptions() Options {
	return Options{
		Timeout:          8 * time.Second,
		MaxMXTries:       2,
		DomainPause:      300 * time.Millisecond,
		MailFrom:         "verify@yourdomain.test",
		HeloHost:         "localhost",
		DNSRetries:       2,
		SMTPRetries:      2,
		SMTPHostCooldown: 5 * time.Minute,
		DNSRetryDelay:    250 * time.Millisecond,
		SMTPRetryDelay:   350 * time.Millisecond,
		Port:             "25",
	}
}

// withDefaults fills unset values from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxMXTries == 0 {
		o.MaxMXTries = def.MaxMXTries
	}
	if o.MailFrom == "" {
		o.MailFrom = def.MailFrom
	}
	if o.HeloHost == "" {
		o.HeloHost = def.HeloHost
	}
	if o.DNSRetries == 0 {
		o.DNSRetries = def.DNSRetries
	}
	if o.SMTPRetries == 0 {
		o.SMTPRetries = def.SMTPRetries
	}
	if o.Port == "" {
		o.Port = def.Port
	}
	o.DomainPause = durationOr(o.DomainPause, def.DomainPause)
	o.SMTPHostCooldown = durationOr(o.SMTPHostCooldown, def.SMTPHostCooldown)
	o.DNSRetryDelay = durationOr(o.DNSRetryDelay, def.DNSRetryDelay)
	o.SMTPRetryDelay = durationOr(o.SMTPRetryDelay, def.SMTPRetryDelay)
	return o
}

// durationOr returns def for zero and 0 for negative values.
func durationOr(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	default:
		return d
	}
}

// ConcurrencyOptions configures concurrent processing for VerifyMany.
type ConcurrencyOptions struct {
	// Workers is the number of concurrent goroutines. Default: 5
	Workers int
}
