package mailcheck_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/mailcheck"
	"github.com/optimode/mailcheck/check"
	"github.com/optimode/mailcheck/internal/cooldown"
	"github.com/optimode/mailcheck/internal/smtptest"
)

// zone is an in-memory MX source. Domains it does not know do not exist.
type zone struct {
	mu      sync.Mutex
	mx      map[string][]*net.MX
	queries int
}

func newZone(mx map[string][]*net.MX) *zone {
	return &zone{mx: mx}
}

func (z *zone) LookupMX(_ context.Context, domain string) ([]*net.MX, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.queries++
	if recs, ok := z.mx[domain]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
}

func (z *zone) LookupHost(_ context.Context, domain string) ([]string, error) {
	return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
}

func (z *zone) Queries() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.queries
}

func testOptions(network *smtptest.Network, z *zone) mailcheck.Options {
	return mailcheck.Options{
		Timeout:        time.Second,
		DomainPause:    -1,
		DNSRetryDelay:  -1,
		SMTPRetryDelay: -1,
		SMTPRetries:    1,
		HeloHost:       "test.com",
		MailFrom:       "verify@test.com",
		MXSources:      []check.MXSource{z},
		Dial:           network.Dial,
	}
}

func exampleZone() *zone {
	return newZone(map[string][]*net.MX{
		"example.com": {
			{Host: "mx2.example.com.", Pref: 20},
			{Host: "mx1.example.com.", Pref: 10},
		},
	})
}

func TestVerify_MalformedInputMakesNoNetworkCalls(t *testing.T) {
	inputs := []string{
		"not-an-email",
		"",
		"user@",
		"@example.com",
		"a@@example.com",
		"user@example.123",
		"user@localhost",
		"user@-example.com",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			network := smtptest.NewNetwork(nil)
			z := exampleZone()
			v := mailcheck.New(testOptions(network, z))

			rec, err := v.Verify(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, mailcheck.DomainMissing, rec.DomainStatus)
			assert.Equal(t, mailcheck.SMTPSkipped, rec.SMTPStatus)
			assert.Contains(t, rec.SMTPDetail, "invalid email format")
			assert.Empty(t, rec.MXHosts)
			assert.Equal(t, 0, z.Queries())
			assert.Equal(t, 0, network.TotalDials())
		})
	}
}

func TestVerify_MXMissing(t *testing.T) {
	network := smtptest.NewNetwork(nil)
	z := exampleZone()
	v := mailcheck.New(testOptions(network, z))

	rec, err := v.Verify(context.Background(), "user@nomail.example")
	require.NoError(t, err)
	assert.Equal(t, "nomail.example", rec.Domain)
	assert.Equal(t, mailcheck.MXMissing, rec.DomainStatus)
	assert.Equal(t, mailcheck.SMTPSkipped, rec.SMTPStatus)
	assert.NotNil(t, rec.MXHosts)
	assert.Empty(t, rec.MXHosts)
	assert.Equal(t, 0, network.TotalDials())
}

func TestVerify_Deliverable(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("250 2.1.5 Recipient OK"),
	})
	v := mailcheck.New(testOptions(network, exampleZone()))

	rec, err := v.Verify(context.Background(), "  User@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "User@example.com", rec.Email)
	assert.Equal(t, "example.com", rec.Domain)
	assert.Equal(t, mailcheck.DomainValid, rec.DomainStatus)
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, rec.MXHosts)
	assert.Equal(t, mailcheck.SMTPDeliverable, rec.SMTPStatus)
	assert.Equal(t, "250 2.1.5 Recipient OK", rec.SMTPDetail)
	assert.Contains(t, network.Commands("mx1.example.com"), "RCPT TO:<User@example.com>")
}

func TestVerify_Undeliverable(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("550 5.1.1 User unknown"),
	})
	v := mailcheck.New(testOptions(network, exampleZone()))

	rec, err := v.Verify(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailcheck.SMTPUndeliverable, rec.SMTPStatus)
	assert.Contains(t, rec.SMTPDetail, "550")
	assert.Equal(t, 0, network.Dials("mx2.example.com"))
}

func TestVerify_GreetingTimeoutPutsHostInCooldown(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": {}, // accepts the connection, never greets
	})
	now := time.Now()
	tbl := cooldown.NewWithClock(func() time.Time { return now })

	opts := testOptions(network, exampleZone())
	opts.Timeout = 50 * time.Millisecond
	opts.MaxMXTries = 1
	opts.SMTPRetries = 1
	opts.SMTPHostCooldown = 3 * time.Minute
	opts.Cooldowns = tbl
	v := mailcheck.New(opts)

	rec, err := v.Verify(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailcheck.SMTPUnknown, rec.SMTPStatus)

	st, active := tbl.Active("mx1.example.com")
	require.True(t, active)
	assert.Equal(t, 3*time.Minute, st.Remaining(now))

	// The next address on the same domain does not touch the host again.
	rec, err = v.Verify(context.Background(), "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailcheck.SMTPUnknown, rec.SMTPStatus)
	assert.Contains(t, rec.SMTPDetail, "skipped due to recent timeout")
	assert.Equal(t, 1, network.Dials("mx1.example.com"))
}

func TestVerify_CooldownHostNeverContacted(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("250 OK"),
		"mx2.example.com": smtptest.Accepting("250 OK"),
	})
	tbl := mailcheck.NewCooldownTable()
	tbl.Mark("mx1.example.com", "timeout", time.Hour)

	opts := testOptions(network, exampleZone())
	opts.Cooldowns = tbl
	v := mailcheck.New(opts)

	rec, err := v.Verify(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailcheck.SMTPDeliverable, rec.SMTPStatus)
	assert.Equal(t, 0, network.Dials("mx1.example.com"))
	assert.Equal(t, 1, network.Dials("mx2.example.com"))
}

func TestVerify_SkipSMTP(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("250 OK"),
	})
	opts := testOptions(network, exampleZone())
	opts.SkipSMTP = true
	v := mailcheck.New(opts)

	for _, in := range []string{"user@example.com", "user@nomail.example", "bad"} {
		rec, err := v.Verify(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, mailcheck.SMTPSkipped, rec.SMTPStatus, in)
	}
	assert.Equal(t, 0, network.TotalDials())
}

func TestVerify_MXCacheShared(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("250 OK"),
	})
	z := exampleZone()
	cache := mailcheck.NewMXCache()

	opts := testOptions(network, z)
	opts.MXCache = cache
	first := mailcheck.New(opts)
	second := mailcheck.New(opts)

	_, err := first.Verify(context.Background(), "a@example.com")
	require.NoError(t, err)
	_, err = second.Verify(context.Background(), "b@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, 1, z.Queries())
	assert.Equal(t, 1, cache.Len())
}

func TestVerify_DomainPause(t *testing.T) {
	network := smtptest.NewNetwork(nil)
	opts := testOptions(network, exampleZone())
	opts.DomainPause = 80 * time.Millisecond
	opts.SkipSMTP = true
	v := mailcheck.New(opts)

	start := time.Now()
	_, err := v.Verify(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// Format failures never reach the network and are not paced.
	start = time.Now()
	_, err = v.Verify(context.Background(), "bad")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 80*time.Millisecond)
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mailcheck.Options)
	}{
		{"bad mail from", func(o *mailcheck.Options) { o.MailFrom = "not-an-address" }},
		{"negative retries", func(o *mailcheck.Options) { o.SMTPRetries = -1 }},
		{"negative dns retries", func(o *mailcheck.Options) { o.DNSRetries = -1 }},
		{"negative max mx", func(o *mailcheck.Options) { o.MaxMXTries = -2 }},
		{"negative timeout", func(o *mailcheck.Options) { o.Timeout = -time.Second }},
		{"bad port", func(o *mailcheck.Options) { o.Port = "smtp" }},
		{"port out of range", func(o *mailcheck.Options) { o.Port = "70000" }},
		{"helo with space", func(o *mailcheck.Options) { o.HeloHost = "my host" }},
		{"negative rate", func(o *mailcheck.Options) { o.ProbeRate = -1 }},
		{"unsupported proxy", func(o *mailcheck.Options) { o.Dial = nil; o.Proxy = "gopher://127.0.0.1:70" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(smtptest.NewNetwork(nil), exampleZone())
			tt.mutate(&opts)
			v := mailcheck.New(opts)

			_, err := v.Verify(context.Background(), "user@example.com")
			assert.ErrorIs(t, err, mailcheck.ErrInvalidOptions)

			_, err = v.VerifyMany(context.Background(), []string{"user@example.com"})
			assert.ErrorIs(t, err, mailcheck.ErrInvalidOptions)
		})
	}
}

func TestNew_ZeroOptionsUseDefaults(t *testing.T) {
	v := mailcheck.New(mailcheck.Options{SkipSMTP: true, MXSources: []check.MXSource{exampleZone()}, DomainPause: -1})
	rec, err := v.Verify(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailcheck.DomainValid, rec.DomainStatus)
}

func TestDefaultOptions(t *testing.T) {
	def := mailcheck.DefaultOptions()
	assert.Equal(t, 8*time.Second, def.Timeout)
	assert.Equal(t, 2, def.MaxMXTries)
	assert.Equal(t, 300*time.Millisecond, def.DomainPause)
	assert.Equal(t, "verify@yourdomain.test", def.MailFrom)
	assert.Equal(t, "localhost", def.HeloHost)
	assert.Equal(t, 2, def.DNSRetries)
	assert.Equal(t, 2, def.SMTPRetries)
	assert.Equal(t, 5*time.Minute, def.SMTPHostCooldown)
	assert.False(t, def.SkipSMTP)
	assert.False(t, def.FallbackToA)
}

func TestVerifyMany_PreservesInputOrder(t *testing.T) {
	network := smtptest.NewNetwork(map[string]*smtptest.Server{
		"mx1.example.com": smtptest.Accepting("250 OK"),
		"mx.other.org":    smtptest.Accepting("550 No such user"),
	})
	z := newZone(map[string][]*net.MX{
		"example.com": {{Host: "mx1.example.com.", Pref: 10}},
		"other.org":   {{Host: "mx.other.org.", Pref: 10}},
	})
	v := mailcheck.New(testOptions(network, z))

	emails := []string{"z@other.org", "a@example.com", "invalid", "b@example.com", "c@missing.example"}
	records, err := v.VerifyMany(context.Background(), emails, mailcheck.ConcurrencyOptions{Workers: 3})
	require.NoError(t, err)
	require.Len(t, records, len(emails))

	assert.Equal(t, mailcheck.SMTPUndeliverable, records[0].SMTPStatus)
	assert.Equal(t, mailcheck.SMTPDeliverable, records[1].SMTPStatus)
	assert.Equal(t, mailcheck.DomainMissing, records[2].DomainStatus)
	assert.Equal(t, mailcheck.SMTPDeliverable, records[3].SMTPStatus)
	assert.Equal(t, mailcheck.MXMissing, records[4].DomainStatus)
	for i, rec := range records {
		assert.Equal(t, emails[i], rec.Email)
	}
	assert.Equal(t, 3, z.Queries()) // one per distinct well-formed domain
}

func TestVerifyMany_Cancelled(t *testing.T) {
	network := smtptest.NewNetwork(nil)
	v := mailcheck.New(testOptions(network, exampleZone()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := v.VerifyMany(ctx, []string{"a@example.com", "b@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
	assert.Equal(t, 0, network.TotalDials())
}

func TestVerifyMany_CancelledMidRun(t *testing.T) {
	network := smtptest.NewNetwork(nil)
	opts := testOptions(network, exampleZone())
	opts.SkipSMTP = true
	opts.DomainPause = 50 * time.Millisecond
	v := mailcheck.New(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com", "f@example.com"}
	records, err := v.VerifyMany(ctx, emails, mailcheck.ConcurrencyOptions{Workers: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, records)
	assert.Less(t, len(records), len(emails))
	for i, rec := range records {
		assert.Equal(t, emails[i], rec.Email) // completed prefix, in order
	}
}

func TestRecord_JSON(t *testing.T) {
	v := mailcheck.New(testOptions(smtptest.NewNetwork(nil), exampleZone()))
	rec, err := v.Verify(context.Background(), "not-an-email")
	require.NoError(t, err)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"email": "not-an-email",
		"domain": "",
		"domain_status": "domain_missing",
		"mx_hosts": [],
		"smtp_status": "skipped",
		"smtp_detail": "invalid email format: address must contain exactly one @"
	}`, string(b))
}
