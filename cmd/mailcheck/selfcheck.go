package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/optimode/mailcheck"
	"github.com/optimode/mailcheck/check"
)

// runSelfCheck exercises input collection, the format check and both
// renderers without touching the network. It returns the exit code.
func runSelfCheck(w io.Writer) int {
	sample := []string{"USER@example.com", "bad-email", " one@sample.org "}
	got := collectEmails(nil, sample)
	if !slices.Equal(got, []string{"user@example.com", "bad-email", "one@sample.org"}) {
		fmt.Fprintln(w, "SELF-CHECK FAILED: collect emails")
		return 1
	}
	if _, err := check.Normalize("a.b+c@domain.tld"); err != nil {
		fmt.Fprintln(w, "SELF-CHECK FAILED: valid format")
		return 1
	}
	if _, err := check.Normalize("wrong@@domain"); err == nil {
		fmt.Fprintln(w, "SELF-CHECK FAILED: invalid format")
		return 1
	}

	rows := []mailcheck.Record{{
		Email:        "user@example.com",
		Domain:       "example.com",
		DomainStatus: mailcheck.DomainValid,
		MXHosts:      []string{"mx1.example.com"},
		SMTPStatus:   mailcheck.SMTPUnknown,
		SMTPDetail:   "sample",
	}}
	fmt.Fprintln(w, "SELF-CHECK OK")
	if err := writeTable(w, rows, false); err != nil {
		return 1
	}
	if err := writeJSONL(w, rows); err != nil {
		return 1
	}
	return 0
}
