package check

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/optimode/mailcheck/internal/dnscache"
	"github.com/optimode/mailcheck/types"
)

// MXSource answers MX and address queries against one resolver.
// *net.Resolver and *Nameserver satisfy it.
type MXSource interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSConfig is the MX resolver configuration.
type DNSConfig struct {
	Timeout     time.Duration // per query
	Retries     int           // attempts per resolution, at least 1
	RetryDelay  time.Duration
	FallbackToA bool // accept the domain itself as mail host when it has no MX but has an address
	Logger      logrus.FieldLogger
}

// Resolution is the outcome of resolving one domain.
type Resolution struct {
	Domain    string
	Status    types.DomainStatus // DomainValid or MXMissing
	Hosts     []types.MXHost     // ascending preference
	Detail    string
	Cached    bool
	FetchedAt time.Time
}

// HostNames returns the host names in preference order.
func (r Resolution) HostNames() []string {
	out := make([]string, 0, len(r.Hosts))
	for _, h := range r.Hosts {
		out = append(out, h.Host)
	}
	return out
}

// MXResolver resolves domains to ordered mail exchangers.
// Results are kept in a shared cache; sources are queried round-robin.
type MXResolver struct {
	cfg     DNSConfig
	sources []MXSource
	cache   *dnscache.Cache
	next    atomic.Uint64
	log     logrus.FieldLogger
}

// NewMXResolver creates a resolver. Without sources the system resolver is
// used; a nil cache gets a private one.
func NewMXResolver(cfg DNSConfig, cache *dnscache.Cache, sources ...MXSource) *MXResolver {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if len(sources) == 0 {
		sources = []MXSource{&net.Resolver{}}
	}
	if cache == nil {
		cache = dnscache.New()
	}
	log := cfg.Logger
	if log == nil {
		log = nopLogger()
	}
	return &MXResolver{
		cfg:     cfg,
		sources: sources,
		cache:   cache,
		log:     log,
	}
}

// Resolve returns the mail exchangers of domain. DNS failures, timeouts and
// missing names all end up as MXMissing; Detail tells them apart.
func (r *MXResolver) Resolve(ctx context.Context, domain string) Resolution {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	log := r.log.WithField("domain", domain)

	entry, hit := r.cache.Lookup(domain, func() (dnscache.Entry, bool) {
		log.Debug("MX cache miss")
		return r.fetch(ctx, domain)
	})
	if hit {
		log.Debug("MX cache hit")
	}

	return Resolution{
		Domain:    domain,
		Status:    entry.Status,
		Hosts:     entry.Hosts,
		Detail:    entry.Detail,
		Cached:    hit,
		FetchedAt: entry.FetchedAt,
	}
}

func (r *MXResolver) fetch(ctx context.Context, domain string) (dnscache.Entry, bool) {
	log := r.log.WithField("domain", domain)
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Retries; attempt++ {
		src := r.pick()
		started := time.Now()
		log.WithFields(logrus.Fields{"attempt": attempt, "source": sourceName(src)}).Debug("MX lookup start")

		records, err := r.lookupMX(ctx, src, domain)
		if err == nil {
			hosts := sortHosts(records)
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"hosts":   len(hosts),
				"elapsed": time.Since(started),
			}).Debug("MX lookup success")
			if len(hosts) == 0 {
				return r.noMX(ctx, src, domain, "MX records missing or invalid")
			}
			return dnscache.Entry{
				Domain: domain,
				Status: types.DomainValid,
				Hosts:  hosts,
				Detail: fmt.Sprintf("%d MX record(s) found", len(hosts)),
			}, true
		}

		if isNotFound(err) {
			return r.noMX(ctx, src, domain, fmt.Sprintf("no MX records: %v", err))
		}

		lastErr = err
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"elapsed": time.Since(started),
		}).WithError(err).Warn("MX lookup failed")

		if attempt < r.cfg.Retries {
			if sleepCtx(ctx, r.cfg.RetryDelay) != nil {
				break
			}
		}
	}

	detail := fmt.Sprintf("DNS lookup failed: %v", lastErr)
	var dnsErr *net.DNSError
	if errors.As(lastErr, &dnsErr) && dnsErr.IsTimeout {
		detail = "DNS timeout while resolving MX"
	}
	// Transient: keep it out of the cache so a later address may retry.
	return dnscache.Entry{Domain: domain, Status: types.MXMissing, Detail: detail}, false
}

// noMX handles a definitive absence of MX records.
func (r *MXResolver) noMX(ctx context.Context, src MXSource, domain, detail string) (dnscache.Entry, bool) {
	missing := dnscache.Entry{Domain: domain, Status: types.MXMissing, Detail: detail}
	if !r.cfg.FallbackToA {
		return missing, true
	}

	qctx, cancel := r.queryContext(ctx)
	defer cancel()
	addrs, err := src.LookupHost(qctx, domain)
	if err != nil {
		if isNotFound(err) {
			return missing, true
		}
		r.log.WithField("domain", domain).WithError(err).Warn("address lookup for MX fallback failed")
		missing.Detail = fmt.Sprintf("%s; address lookup failed: %v", detail, err)
		return missing, false
	}
	if len(addrs) == 0 {
		return missing, true
	}

	return dnscache.Entry{
		Domain: domain,
		Status: types.DomainValid,
		Hosts:  []types.MXHost{{Host: domain, Pref: 0}},
		Detail: "no MX record, A record found (fallback)",
	}, true
}

func (r *MXResolver) lookupMX(ctx context.Context, src MXSource, domain string) ([]*net.MX, error) {
	qctx, cancel := r.queryContext(ctx)
	defer cancel()
	return src.LookupMX(qctx, domain)
}

func (r *MXResolver) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, r.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// pick returns the next source in round-robin order.
func (r *MXResolver) pick() MXSource {
	i := r.next.Add(1) - 1
	return r.sources[i%uint64(len(r.sources))]
}

// sortHosts trims trailing dots, drops null MX entries and orders by
// preference. Equal preferences keep response order.
func sortHosts(records []*net.MX) []types.MXHost {
	hosts := make([]types.MXHost, 0, len(records))
	for _, mx := range records {
		if mx == nil {
			continue
		}
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		if host == "" {
			continue
		}
		hosts = append(hosts, types.MXHost{Host: host, Pref: mx.Pref})
	}
	sort.SliceStable(hosts, func(i, j int) bool {
		return hosts[i].Pref < hosts[j].Pref
	})
	return hosts
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func sourceName(src MXSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return "system"
}
