package mailcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/optimode/mailcheck/check"
	"github.com/optimode/mailcheck/internal/smtpsession"
	"github.com/optimode/mailcheck/types"
)

// Verifier runs the verification pipeline: format, MX, SMTP.
// It is safe for concurrent use. Instantiate with New.
type Verifier struct {
	opts     Options
	err      error // configuration error, returned on Verify()
	resolver *check.MXResolver
	prober   *check.Prober
	log      logrus.FieldLogger
}

// New creates a Verifier. Invalid options are not reported here but by
// every later call to Verify or VerifyMany, as ErrInvalidOptions.
func New(opts Options) *Verifier {
	opts = opts.withDefaults()
	v := &Verifier{opts: opts, log: opts.Logger}
	if v.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		v.log = l
	}
	if opts.MXCache == nil {
		opts.MXCache = NewMXCache()
	}
	if opts.Cooldowns == nil {
		opts.Cooldowns = NewCooldownTable()
	}

	if err := validateOptions(opts); err != nil {
		v.err = err
		return v
	}

	sources := opts.MXSources
	if len(sources) == 0 {
		for _, addr := range opts.DNSServers {
			sources = append(sources, check.NewNameserver(addr, opts.Timeout))
		}
	}
	v.resolver = check.NewMXResolver(check.DNSConfig{
		Timeout:     opts.Timeout,
		Retries:     opts.DNSRetries,
		RetryDelay:  opts.DNSRetryDelay,
		FallbackToA: opts.FallbackToA,
		Logger:      v.log,
	}, opts.MXCache, sources...)

	dial := opts.Dial
	if dial == nil && opts.Proxy != "" {
		d, err := smtpsession.ProxyDialer(opts.Proxy, opts.Timeout)
		if err != nil {
			v.err = fmt.Errorf("%w: Proxy: %v", ErrInvalidOptions, err)
			return v
		}
		dial = d
	}
	var limiter *rate.Limiter
	if opts.ProbeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ProbeRate), 1)
	}
	v.prober = check.NewProber(check.SMTPConfig{
		HeloHost:    opts.HeloHost,
		MailFrom:    opts.MailFrom,
		Timeout:     opts.Timeout,
		MaxMXTries:  opts.MaxMXTries,
		Retries:     opts.SMTPRetries,
		RetryDelay:  opts.SMTPRetryDelay,
		Cooldown:    opts.SMTPHostCooldown,
		Port:        opts.Port,
		TryStartTLS: opts.TryStartTLS,
		Dial:        dial,
		Limiter:     limiter,
		Logger:      v.log,
	}, opts.Cooldowns)

	v.opts = opts
	return v
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateOptions(o Options) error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if port, err := strconv.Atoi(o.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: Port %q out of range", ErrInvalidOptions, o.Port)
	}
	if _, err := check.Normalize(o.MailFrom); err != nil {
		return fmt.Errorf("%w: MailFrom: %v", ErrInvalidOptions, err)
	}
	return nil
}

// Verify runs the pipeline for one address. Every per-address failure is
// encoded in the returned Record; the error is only ever ErrInvalidOptions.
// Context can be used for timeout or cancellation.
func (v *Verifier) Verify(ctx context.Context, raw string) (Record, error) {
	if v.err != nil {
		return Record{}, v.err
	}
	rec, networked := v.verify(ctx, raw)
	if networked {
		_ = sleepCtx(ctx, v.opts.DomainPause)
	}
	return rec, nil
}

// verify builds the record for raw. It reports false for format failures,
// which never reach the network and are not paced.
func (v *Verifier) verify(ctx context.Context, raw string) (Record, bool) {
	addr, err := check.Normalize(raw)
	if err != nil {
		reason := err.Error()
		var fe *check.FormatError
		if errors.As(err, &fe) {
			reason = fe.Reason
		}
		return Record{
			Email:        strings.TrimSpace(raw),
			Domain:       domainOf(raw),
			DomainStatus: types.DomainMissing,
			MXHosts:      []string{},
			SMTPStatus:   types.SMTPSkipped,
			SMTPDetail:   "invalid email format: " + reason,
		}, false
	}

	email := addr.String()
	log := v.log.WithField("email", email)

	res := v.resolver.Resolve(ctx, addr.Domain)
	rec := Record{
		Email:        email,
		Domain:       addr.Domain,
		DomainStatus: res.Status,
		MXHosts:      res.HostNames(),
		SMTPStatus:   types.SMTPSkipped,
	}
	if !res.Cached {
		log.WithFields(logrus.Fields{"status": res.Status, "detail": res.Detail}).Debug("MX resolved")
	}

	switch {
	case res.Status != types.DomainValid:
		rec.SMTPDetail = "SMTP skipped: " + res.Detail
	case v.opts.SkipSMTP:
		rec.SMTPDetail = "SMTP skipped by configuration"
	default:
		out := v.prober.Probe(ctx, email, rec.MXHosts)
		rec.SMTPStatus = out.Status
		rec.SMTPDetail = out.Detail
		log.WithFields(logrus.Fields{"status": out.Status, "host": out.Host}).Debug("SMTP probed")
	}
	return rec, true
}

// VerifyMany verifies multiple emails concurrently.
// The result order matches the input slice order. Cancellation is checked
// between addresses; on cancellation the records completed so far are
// returned, still in input order, together with ctx.Err().
// Emails are sorted by domain internally for better MX cache utilization.
func (v *Verifier) VerifyMany(ctx context.Context, emails []string, opts ...ConcurrencyOptions) ([]Record, error) {
	if v.err != nil {
		return nil, v.err
	}

	workers := 5
	if len(opts) > 0 && opts[0].Workers > 0 {
		workers = opts[0].Workers
	}

	log := v.log.WithField("run", uuid.NewString())
	log.WithFields(logrus.Fields{"emails": len(emails), "workers": workers}).Info("verification run start")
	started := time.Now()

	records := make([]Record, len(emails))
	done := make([]bool, len(emails))
	type job struct {
		idx    int
		email  string
		domain string
	}

	// Build and sort jobs by domain for cache locality
	jobSlice := make([]job, len(emails))
	for i, e := range emails {
		jobSlice[i] = job{idx: i, email: e, domain: domainOf(e)}
	}
	sort.SliceStable(jobSlice, func(i, j int) bool {
		return jobSlice[i].domain < jobSlice[j].domain
	})

	// Feed sorted jobs into bounded channel
	bufSize := len(emails)
	if bufSize > 1000 {
		bufSize = 1000
	}
	jobs := make(chan job, bufSize)
	go func() {
		defer close(jobs)
		for _, j := range jobSlice {
			select {
			case jobs <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rec, networked := v.verify(ctx, j.email)
				if ctx.Err() != nil {
					// Abandoned mid-flight; the record would only say so.
					continue
				}
				records[j.idx] = rec
				done[j.idx] = true
				log.WithFields(logrus.Fields{
					"email":         rec.Email,
					"domain_status": rec.DomainStatus,
					"smtp_status":   rec.SMTPStatus,
				}).Debug("address verified")
				if networked {
					_ = sleepCtx(ctx, v.opts.DomainPause)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		completed := make([]Record, 0, len(records))
		for i, rec := range records {
			if done[i] {
				completed = append(completed, rec)
			}
		}
		log.WithFields(logrus.Fields{"completed": len(completed), "emails": len(emails)}).Warn("verification run cancelled")
		return completed, err
	}

	log.WithField("elapsed", time.Since(started)).Info("verification run finished")
	return records, nil
}

// domainOf returns the lower-cased text after the last "@", or "".
func domainOf(raw string) string {
	raw = strings.TrimSpace(raw)
	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(raw[at+1:]))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
