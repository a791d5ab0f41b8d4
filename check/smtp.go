package check

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/optimode/mailcheck/internal/cooldown"
	"github.com/optimode/mailcheck/internal/smtpsession"
	"github.com/optimode/mailcheck/types"
)

// SMTPConfig is the SMTP prober configuration.
type SMTPConfig struct {
	HeloHost    string
	MailFrom    string
	Timeout     time.Duration // connect and per command
	MaxMXTries  int           // hosts attempted per address, at least 1
	Retries     int           // attempts per host, at least 1
	RetryDelay  time.Duration
	Cooldown    time.Duration // applied after a host exhausts its retries on transport failures
	Port        string
	TryStartTLS bool
	TLSConfig   *tls.Config // nil: verify against the MX host name
	// Dial is injectable for testing and proxying. Defaults to a net.Dialer.
	Dial smtpsession.DialFunc
	// Limiter, when set, throttles connection attempts across all probes.
	Limiter *rate.Limiter
	Logger  logrus.FieldLogger
}

// Outcome is the verdict for one address.
type Outcome struct {
	Status types.SMTPStatus
	Detail string
	Host   string // host that produced the verdict, if any
	Code   int    // SMTP reply code behind the verdict, if any
}

// Prober performs SMTP RCPT TO probes against ranked MX hosts.
// It shares a cooldown table with other probers of the same run.
type Prober struct {
	cfg       SMTPConfig
	cooldowns *cooldown.Table
	log       logrus.FieldLogger
}

// NewProber creates a prober. A nil table gets a private one.
func NewProber(cfg SMTPConfig, cooldowns *cooldown.Table) *Prober {
	if cfg.MaxMXTries < 1 {
		cfg.MaxMXTries = 1
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Port == "" {
		cfg.Port = "25"
	}
	if cfg.Dial == nil {
		cfg.Dial = smtpsession.Dialer(cfg.Timeout)
	}
	if cooldowns == nil {
		cooldowns = cooldown.New()
	}
	log := cfg.Logger
	if log == nil {
		log = nopLogger()
	}
	return &Prober{cfg: cfg, cooldowns: cooldowns, log: log}
}

// undeliverableCodes are the RCPT TO replies that reject the mailbox itself.
var undeliverableCodes = map[int]bool{550: true, 551: true, 553: true}

// portBlockedHint is appended when no host could be reached at all.
const portBlockedHint = "outbound SMTP connections to port 25 may be blocked by the network or provider"

// Probe asks hosts, in order, whether they accept mail for email.
// Deliverable and undeliverable verdicts end the probe. Tempfail means a
// host answered but declined for now; unknown means no host could be
// probed conclusively.
func (p *Prober) Probe(ctx context.Context, email string, hosts []string) Outcome {
	if len(hosts) == 0 {
		return Outcome{Status: types.SMTPUnknown, Detail: "no MX hosts for SMTP probe"}
	}
	if len(hosts) > p.cfg.MaxMXTries {
		hosts = hosts[:p.cfg.MaxMXTries]
	}
	log := p.log.WithField("email", email)
	log.WithField("hosts", hosts).Debug("SMTP probe start")

	var (
		notes     []string
		tempfail  *Outcome
		transport bool
	)
	for _, host := range hosts {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}

		if st, ok := p.cooldowns.Active(host); ok {
			left := int(st.Remaining(p.cooldowns.Now()).Seconds())
			note := fmt.Sprintf("%s: skipped due to recent %s (cooldown %ds)", host, st.Reason, left)
			log.WithField("host", host).Debug(note)
			notes = append(notes, note)
			continue
		}

		res := p.probeHost(ctx, host, email)
		switch res.kind {
		case attemptVerdict:
			log.WithFields(logrus.Fields{"host": host, "status": res.status, "code": res.code}).Debug("SMTP probe verdict")
			return Outcome{Status: res.status, Detail: res.detail, Host: host, Code: res.code}
		case attemptTempfail:
			tempfail = &Outcome{Status: types.SMTPTempfail, Detail: res.detail, Host: host, Code: res.code}
		case attemptCancelled:
			return cancelled(res.err)
		case attemptTransport:
			transport = true
			notes = append(notes, fmt.Sprintf("%s: %s", host, res.detail))
		default:
			notes = append(notes, fmt.Sprintf("%s: %s", host, res.detail))
		}
	}

	if tempfail != nil {
		return *tempfail
	}

	if len(notes) > 4 {
		notes = notes[len(notes)-4:]
	}
	detail := "no host could be probed"
	if len(notes) > 0 {
		detail += ": " + strings.Join(notes, "; ")
	}
	if transport {
		detail += " (" + portBlockedHint + ")"
	}
	log.WithField("detail", detail).Debug("SMTP probe finished without verdict")
	return Outcome{Status: types.SMTPUnknown, Detail: detail}
}

// probeHost runs up to Retries attempts against one host. Only refused
// connections and transport failures are retried; a host that still fails
// at the transport level afterwards is put in cooldown.
func (p *Prober) probeHost(ctx context.Context, host, email string) attemptResult {
	log := p.log.WithFields(logrus.Fields{"email": email, "host": host})

	var res attemptResult
	for n := 1; n <= p.cfg.Retries; n++ {
		started := time.Now()
		log.WithField("attempt", n).Debug("SMTP attempt start")

		a := &attempt{p: p, ctx: ctx, host: host, email: email, log: log}
		res = a.run()

		if res.kind != attemptRefused && res.kind != attemptTransport {
			return res
		}
		log.WithFields(logrus.Fields{
			"attempt": n,
			"elapsed": time.Since(started),
		}).WithError(res.err).Warn("SMTP attempt failed")

		if n < p.cfg.Retries {
			if sleepCtx(ctx, p.cfg.RetryDelay) != nil {
				return attemptResult{kind: attemptCancelled, err: ctx.Err()}
			}
		}
	}

	if p.cfg.Retries > 1 {
		res.detail = fmt.Sprintf("%d attempts failed, last: %s", p.cfg.Retries, res.detail)
	}
	if res.kind == attemptTransport {
		reason := "network error"
		if smtpsession.IsTimeout(res.err) {
			reason = "timeout"
		}
		p.cooldowns.Mark(host, reason, p.cfg.Cooldown)
		log.WithFields(logrus.Fields{"reason": reason, "cooldown": p.cfg.Cooldown}).Debug("SMTP host marked unavailable")
	}
	return res
}

func cancelled(err error) Outcome {
	return Outcome{Status: types.SMTPUnknown, Detail: fmt.Sprintf("SMTP probe cancelled: %v", err)}
}

// attemptKind classifies how one attempt against one host ended.
type attemptKind int

const (
	attemptVerdict   attemptKind = iota // deliverable or undeliverable
	attemptTempfail                     // the host answered but declined for now
	attemptRefused                      // connection refused or greeting rejected; no cooldown
	attemptTransport                    // timeout or broken connection
	attemptCancelled
)

type attemptResult struct {
	kind   attemptKind
	status types.SMTPStatus
	code   int
	detail string
	err    error
}

// probeState is a step of the SMTP dialogue.
type probeState int

const (
	stateConnect probeState = iota
	stateGreeting
	stateHello
	stateStartTLS
	stateMailFrom
	stateRcptTo
	stateDone
)

// attempt is one pass through the dialogue against one host.
type attempt struct {
	p      *Prober
	ctx    context.Context
	host   string
	email  string
	log    logrus.FieldLogger
	sess   *smtpsession.Session
	tls    bool
	result attemptResult
}

func (a *attempt) run() attemptResult {
	state := stateConnect
	for state != stateDone {
		state = a.step(state)
	}

	if a.sess != nil {
		if a.ctx.Err() == nil && a.result.kind != attemptTransport {
			a.sess.Quit()
		}
		_ = a.sess.Close()
	}
	return a.result
}

func (a *attempt) step(state probeState) probeState {
	switch state {
	case stateConnect:
		return a.connect()
	case stateGreeting:
		return a.greeting()
	case stateHello:
		return a.hello()
	case stateStartTLS:
		return a.startTLS()
	case stateMailFrom:
		return a.mailFrom()
	case stateRcptTo:
		return a.rcptTo()
	default:
		return stateDone
	}
}

func (a *attempt) connect() probeState {
	cfg := a.p.cfg
	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(a.ctx); err != nil {
			return a.finish(attemptResult{kind: attemptCancelled, err: err})
		}
	}

	a.log.WithField("timeout", cfg.Timeout).Debug("SMTP connect start")
	sess, err := smtpsession.Open(a.ctx, smtpsession.Config{
		Port:    cfg.Port,
		Timeout: cfg.Timeout,
		Dial:    cfg.Dial,
	}, a.host)
	if err != nil {
		if a.ctx.Err() == nil && !smtpsession.IsTimeout(err) {
			return a.finish(attemptResult{kind: attemptRefused, err: err, detail: err.Error()})
		}
		return a.transportErr("connect", err)
	}
	a.sess = sess
	return stateGreeting
}

func (a *attempt) greeting() probeState {
	reply, err := a.sess.ReadReply()
	if err != nil {
		return a.transportErr("greeting", err)
	}
	a.log.WithField("code", reply.Code).Debug("SMTP greeting")

	switch {
	case reply.Positive():
		return stateHello
	case reply.Transient():
		return a.tempfail("greeting", reply)
	default:
		return a.finish(attemptResult{
			kind:   attemptRefused,
			code:   reply.Code,
			err:    fmt.Errorf("greeting rejected: %s", reply),
			detail: "greeting rejected: " + reply.String(),
		})
	}
}

func (a *attempt) hello() probeState {
	helo := a.p.cfg.HeloHost
	reply, err := a.sess.Cmd("EHLO %s", helo)
	if err != nil {
		return a.transportErr("EHLO", err)
	}
	a.log.WithField("code", reply.Code).Debug("SMTP EHLO")

	if !reply.Positive() {
		reply, err = a.sess.Cmd("HELO %s", helo)
		if err != nil {
			return a.transportErr("HELO", err)
		}
		a.log.WithField("code", reply.Code).Debug("SMTP HELO")
		if !reply.Positive() {
			return a.tempfail("HELO", reply)
		}
		return stateMailFrom
	}

	if a.p.cfg.TryStartTLS && !a.tls && reply.HasExtension("STARTTLS") {
		return stateStartTLS
	}
	return stateMailFrom
}

func (a *attempt) startTLS() probeState {
	reply, err := a.sess.Cmd("STARTTLS")
	if err != nil {
		return a.transportErr("STARTTLS", err)
	}
	if reply.Code != 220 {
		a.log.WithField("code", reply.Code).Info("STARTTLS not used")
		return stateMailFrom
	}

	cfg := a.p.cfg.TLSConfig
	if cfg != nil {
		cfg = cfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = a.host
		}
	}
	if err := a.sess.UpgradeTLS(a.ctx, cfg); err != nil {
		return a.transportErr("STARTTLS", err)
	}
	a.tls = true
	a.log.Debug("SMTP STARTTLS success")
	return stateHello
}

func (a *attempt) mailFrom() probeState {
	reply, err := a.sess.Cmd("MAIL FROM:<%s>", a.p.cfg.MailFrom)
	if err != nil {
		return a.transportErr("MAIL FROM", err)
	}
	a.log.WithField("code", reply.Code).Debug("SMTP MAIL FROM")
	if !reply.Positive() {
		return a.tempfail("MAIL FROM", reply)
	}
	return stateRcptTo
}

func (a *attempt) rcptTo() probeState {
	reply, err := a.sess.Cmd("RCPT TO:<%s>", a.email)
	if err != nil {
		return a.transportErr("RCPT TO", err)
	}
	a.log.WithField("code", reply.Code).Debug("SMTP RCPT TO")

	switch {
	case reply.Positive():
		return a.verdict(types.SMTPDeliverable, reply)
	case undeliverableCodes[reply.Code]:
		return a.verdict(types.SMTPUndeliverable, reply)
	default:
		return a.finish(attemptResult{kind: attemptTempfail, code: reply.Code, detail: reply.String()})
	}
}

func (a *attempt) verdict(status types.SMTPStatus, reply smtpsession.Reply) probeState {
	return a.finish(attemptResult{kind: attemptVerdict, status: status, code: reply.Code, detail: reply.String()})
}

func (a *attempt) tempfail(step string, reply smtpsession.Reply) probeState {
	return a.finish(attemptResult{
		kind:   attemptTempfail,
		code:   reply.Code,
		detail: fmt.Sprintf("%s rejected: %s", step, reply),
	})
}

// transportErr ends the attempt after a network-level failure, unless the
// failure was caused by cancellation.
func (a *attempt) transportErr(step string, err error) probeState {
	if a.ctx.Err() != nil {
		return a.finish(attemptResult{kind: attemptCancelled, err: a.ctx.Err()})
	}
	detail := fmt.Sprintf("%s: %v", step, err)
	if smtpsession.IsTimeout(err) {
		detail = fmt.Sprintf("%s: timeout", step)
	}
	return a.finish(attemptResult{kind: attemptTransport, err: err, detail: detail})
}

func (a *attempt) finish(res attemptResult) probeState {
	a.result = res
	return stateDone
}
