package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/optimode/mailcheck"
)

var tableHeaders = []string{"email", "domain", "domain_status", "mx_hosts", "smtp_status", "smtp_detail"}

// smtpColors highlights the smtp_status column.
var smtpColors = map[mailcheck.SMTPStatus]*color.Color{
	mailcheck.SMTPDeliverable:   color.New(color.FgGreen),
	mailcheck.SMTPUndeliverable: color.New(color.FgRed),
	mailcheck.SMTPTempfail:      color.New(color.FgYellow),
	mailcheck.SMTPUnknown:       color.New(color.FgMagenta),
	mailcheck.SMTPSkipped:       color.New(color.Faint),
}

// writeTable renders records as a " | " separated table with a header
// row. Cells are padded to the widest value in their column.
func writeTable(w io.Writer, records []mailcheck.Record, colorize bool) error {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.Email,
			r.Domain,
			r.DomainStatus.String(),
			strings.Join(r.MXHosts, ","),
			r.SMTPStatus.String(),
			r.SMTPDetail,
		}
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	line := func(cells []string, paint *color.Color) string {
		padded := make([]string, len(cells))
		for i, cell := range cells {
			padded[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
			if i == 4 && paint != nil {
				padded[i] = paint.Sprint(padded[i])
			}
		}
		return strings.TrimRight(strings.Join(padded, " | "), " ")
	}

	sep := make([]string, len(widths))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}

	var b strings.Builder
	b.WriteString(line(tableHeaders, nil) + "\n")
	b.WriteString(strings.Join(sep, " | ") + "\n")
	for i, row := range rows {
		var paint *color.Color
		if colorize {
			paint = smtpColors[records[i].SMTPStatus]
		}
		b.WriteString(line(row, paint) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeJSONL writes one JSON object per record. Non-ASCII text is kept as is.
func writeJSONL(w io.Writer, records []mailcheck.Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s: %w", r.Email, err)
		}
	}
	return nil
}
