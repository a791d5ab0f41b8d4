package check

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Nameserver queries one explicit DNS server directly.
// It answers like net.Resolver: a missing name or an empty answer is a
// *net.DNSError with IsNotFound, SERVFAIL/REFUSED are IsTemporary.
type Nameserver struct {
	Addr   string // host:port
	client *dns.Client
}

// NewNameserver creates a Nameserver for addr. Port 53 is assumed when
// addr has none.
func NewNameserver(addr string, timeout time.Duration) *Nameserver {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), "53")
	}
	return &Nameserver{
		Addr:   addr,
		client: &dns.Client{Timeout: timeout},
	}
}

func (n *Nameserver) String() string { return n.Addr }

// LookupMX returns the MX records of domain in response order.
func (n *Nameserver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	in, err := n.exchange(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var out []*net.MX
	for _, rr := range in.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	if len(out) == 0 {
		return nil, n.notFound(domain)
	}
	return out, nil
}

// LookupHost returns the A and AAAA addresses of domain.
func (n *Nameserver) LookupHost(ctx context.Context, domain string) ([]string, error) {
	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		in, err := n.exchange(ctx, domain, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, n.notFound(domain)
}

func (n *Nameserver) exchange(ctx context.Context, domain string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	in, _, err := n.client.ExchangeContext(ctx, m, n.Addr)
	if err == nil && in.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: n.client.Timeout}
		in, _, err = tcp.ExchangeContext(ctx, m, n.Addr)
	}
	if err != nil {
		dnsErr := &net.DNSError{Err: err.Error(), Name: domain, Server: n.Addr, IsTemporary: true}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			dnsErr.IsTimeout = true
		}
		if ctx.Err() != nil {
			dnsErr.IsTimeout = true
		}
		return nil, dnsErr
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
		return in, nil
	case dns.RcodeNameError:
		return nil, n.notFound(domain)
	default:
		return nil, &net.DNSError{
			Err:         fmt.Sprintf("server answered %s", dns.RcodeToString[in.Rcode]),
			Name:        domain,
			Server:      n.Addr,
			IsTemporary: true,
		}
	}
}

func (n *Nameserver) notFound(domain string) error {
	return &net.DNSError{Err: "no such host", Name: domain, Server: n.Addr, IsNotFound: true}
}
