// Package check contains the stages of the mailcheck pipeline: address
// normalization, MX resolution and the SMTP RCPT TO probe.
// These types can be used directly, but the recommended approach is
// to use the Verifier from the github.com/optimode/mailcheck package.
package check

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// nopLogger returns a logger that writes nowhere.
func nopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
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
