package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/optimode/mailcheck"
)

// envPrefix is prepended to every flag name (upper-cased, dashes become
// underscores) to find its environment default, e.g. MAILCHECK_MAX_MX_TRIES.
const envPrefix = "MAILCHECK_"

type config struct {
	file      string
	emails    []string
	format    string
	workers   int
	logLevel  string
	noColor   bool
	selfCheck bool
	opts      mailcheck.Options
}

// errUsage marks configuration problems that should print usage.
var errUsage = errors.New("usage error")

// parseConfig reads flags from args. Unset flags take their default from
// the environment (through getenv), then from mailcheck.DefaultOptions.
func parseConfig(args []string, getenv func(string) string, stderr io.Writer) (config, error) {
	def := mailcheck.DefaultOptions()
	env := envReader{getenv: getenv}

	cfg := config{opts: def}
	o := &cfg.opts

	fs := flag.NewFlagSet("mailcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mailcheck [flags] [email ...]\n\nChecks email domains (MX) and probes mailboxes with a partial SMTP handshake.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.file, "file", env.String("file", ""), "path to a file with emails, one per line")
	fs.StringVar(&cfg.format, "format", env.String("format", "table"), "output format: table or jsonl")
	fs.IntVar(&cfg.workers, "workers", env.Int("workers", 5), "number of addresses verified concurrently")
	fs.StringVar(&cfg.logLevel, "log-level", env.String("log-level", "info"), "log level: debug, info, warning, error")
	fs.BoolVar(&cfg.noColor, "no-color", env.Bool("no-color", false), "disable colored table output")
	fs.BoolVar(&cfg.selfCheck, "self-check", false, "run lightweight internal checks and exit")

	fs.Var(newSeconds(&o.Timeout, env.Duration("timeout", def.Timeout)), "timeout", "network timeout (e.g. 8s, or seconds)")
	fs.IntVar(&o.MaxMXTries, "max-mx-tries", env.Int("max-mx-tries", def.MaxMXTries), "how many MX hosts to try per address")
	fs.Var(newSeconds(&o.DomainPause, env.Duration("domain-pause", def.DomainPause)), "domain-pause", "pause after each address (e.g. 300ms, or seconds)")
	fs.StringVar(&o.MailFrom, "mail-from", env.String("mail-from", def.MailFrom), "MAIL FROM address used in the SMTP probe")
	fs.StringVar(&o.HeloHost, "helo-host", env.String("helo-host", def.HeloHost), "hostname for EHLO/HELO")
	fs.Var(newStringList(&o.DNSServers, env.List("dns-server")), "dns-server", "DNS server to query, repeatable (default: system resolver)")
	fs.IntVar(&o.DNSRetries, "dns-retries", env.Int("dns-retries", def.DNSRetries), "attempts per MX resolution")
	fs.BoolVar(&o.SkipSMTP, "skip-smtp", env.Bool("skip-smtp", false), "only check format and MX records")
	fs.IntVar(&o.SMTPRetries, "smtp-retries", env.Int("smtp-retries", def.SMTPRetries), "attempts per SMTP host")
	fs.Var(newSeconds(&o.SMTPHostCooldown, env.Duration("smtp-host-cooldown", def.SMTPHostCooldown)), "smtp-host-cooldown", "how long a failing SMTP host is skipped")
	fs.BoolVar(&o.FallbackToA, "fallback-a", env.Bool("fallback-a", false), "treat a domain without MX but with an A record as its own mail host")
	fs.BoolVar(&o.TryStartTLS, "starttls", env.Bool("starttls", false), "upgrade SMTP sessions with STARTTLS when offered")
	fs.StringVar(&o.Proxy, "proxy", env.String("proxy", ""), "SOCKS5 proxy for SMTP connections, e.g. socks5://127.0.0.1:1080")
	fs.Float64Var(&o.ProbeRate, "rate", env.Float("rate", 0), "max new SMTP connections per second (0: unlimited)")

	if env.err != nil {
		return cfg, env.err
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.emails = fs.Args()

	if cfg.format != "table" && cfg.format != "jsonl" {
		fs.Usage()
		return cfg, fmt.Errorf("%w: unknown format %q", errUsage, cfg.format)
	}
	if cfg.workers < 1 {
		return cfg, fmt.Errorf("%w: -workers must be at least 1", errUsage)
	}
	if o.MaxMXTries < 1 {
		o.MaxMXTries = 1
	}
	if o.DomainPause == 0 {
		o.DomainPause = -1 // zero disables the pause
	}
	if o.SMTPHostCooldown == 0 {
		o.SMTPHostCooldown = -1
	}
	return cfg, nil
}

// envReader looks up flag defaults in the environment. The first
// malformed value is kept in err.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(name string) string {
	key := envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return strings.TrimSpace(e.getenv(key))
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		e.err = fmt.Errorf("%w: %s=%q: %v", errUsage, key, value, err)
	}
}

func (e *envReader) String(name, def string) string {
	if v := e.lookup(name); v != "" {
		return v
	}
	return def
}

func (e *envReader) Int(name string, def int) int {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return n
}

func (e *envReader) Float(name string, def float64) float64 {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return f
}

func (e *envReader) Bool(name string, def bool) bool {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return b
}

func (e *envReader) Duration(name string, def time.Duration) time.Duration {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	d, err := parseSeconds(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return d
}

func (e *envReader) List(name string) []string {
	var out []string
	for _, s := range strings.Split(e.lookup(name), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseSeconds accepts a Go duration ("1m30s") or a plain number of seconds ("0.3").
func parseSeconds(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// secondsValue is a flag.Value for parseSeconds.
type secondsValue struct{ d *time.Duration }

func newSeconds(p *time.Duration, def time.Duration) *secondsValue {
	*p = def
	return &secondsValue{d: p}
}

func (s *secondsValue) String() string {
	if s.d == nil {
		return ""
	}
	return s.d.String()
}

func (s *secondsValue) Set(v string) error {
	d, err := parseSeconds(v)
	if err != nil {
		return err
	}
	*s.d = d
	return nil
}

// stringList is a repeatable string flag. The first Set replaces the
// environment default.
type stringList struct {
	p   *[]string
	set bool
}

func newStringList(p *[]string, def []string) *stringList {
	*p = def
	return &stringList{p: p}
}

func (l *stringList) String() string {
	if l.p == nil {
		return ""
	}
	return strings.Join(*l.p, ",")
}

func (l *stringList) Set(v string) error {
	if !l.set {
		*l.p = nil
		l.set = true
	}
	*l.p = append(*l.p, v)
	return nil
}
