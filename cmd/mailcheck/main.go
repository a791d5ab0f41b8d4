// Command mailcheck checks email addresses for a valid domain, MX records
// and mailbox acceptance (SMTP RCPT TO) without sending mail.
//
// Addresses come from -file (one per line) and from the arguments:
//
//	mailcheck -file leads.txt -format jsonl
//	mailcheck -skip-smtp user@example.com other@example.org
//
// Every flag can also be set through a MAILCHECK_* environment variable,
// optionally loaded from a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/optimode/mailcheck"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

// run is main without process globals. It returns the exit code:
// 0 on success, 1 on failure or interruption, 2 on bad input or usage.
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, getenv, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	if cfg.selfCheck {
		return runSelfCheck(stdout)
	}

	log := logrus.New()
	log.SetOutput(stderr)
	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	log.SetLevel(level)
	cfg.opts.Logger = log

	var fileEmails []string
	if cfg.file != "" {
		fileEmails, err = readLines(cfg.file)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}
	emails := collectEmails(fileEmails, cfg.emails)
	if len(emails) == 0 {
		fmt.Fprintln(stderr, "mailcheck: provide emails as arguments and/or with -file")
		return 2
	}

	v := mailcheck.New(cfg.opts)
	records, err := v.VerifyMany(ctx, emails, mailcheck.ConcurrencyOptions{Workers: cfg.workers})
	if errors.Is(err, mailcheck.ErrInvalidOptions) {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if cfg.format == "jsonl" {
		if werr := writeJSONL(stdout, records); werr != nil {
			log.WithError(werr).Error("write output")
			return 1
		}
	} else if werr := writeTable(stdout, records, !cfg.noColor); werr != nil {
		log.WithError(werr).Error("write output")
		return 1
	}

	if err != nil {
		log.WithError(err).Warnf("interrupted after %d of %d addresses", len(records), len(emails))
		return 1
	}
	return 0
}
