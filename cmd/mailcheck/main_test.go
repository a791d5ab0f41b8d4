package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, envFrom(nil), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_SelfCheck(t *testing.T) {
	code, out, _ := runCLI(t, "-self-check")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "SELF-CHECK OK\n"))
	assert.Contains(t, out, "user@example.com | example.com | valid")
	assert.Contains(t, out, `"smtp_detail":"sample"`)
}

func TestRun_NoInput(t *testing.T) {
	code, out, errOut := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "provide emails")
}

func TestRun_MissingFile(t *testing.T) {
	code, _, errOut := runCLI(t, "-file", filepath.Join(t.TempDir(), "nope.txt"))
	assert.Equal(t, 2, code)
	assert.NotEmpty(t, errOut)
}

func TestRun_InvalidOptions(t *testing.T) {
	code, _, errOut := runCLI(t, "-mail-from", "nobody", "user@example.com")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "invalid options")
}

func TestRun_Help(t *testing.T) {
	code, _, errOut := runCLI(t, "-h")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Usage: mailcheck")
}

func TestRun_MalformedAddressesJSONL(t *testing.T) {
	// Malformed addresses never reach DNS or SMTP.
	path := filepath.Join(t.TempDir(), "emails.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-an-email\nuser@\n"), 0o600))

	code, out, _ := runCLI(t, "-file", path, "-format", "jsonl", "-log-level", "error", "a@@b.com", "NOT-AN-EMAIL")
	assert.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"email":"not-an-email"`)
	assert.Contains(t, lines[1], `"email":"user@"`)
	assert.Contains(t, lines[2], `"email":"a@@b.com"`)
	for _, l := range lines {
		assert.Contains(t, l, `"domain_status":"domain_missing"`)
		assert.Contains(t, l, `"smtp_status":"skipped"`)
	}
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, errOut bytes.Buffer
	code := run(ctx, []string{"-no-color", "-log-level", "error", "bad"}, envFrom(nil), &out, &errOut)
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(out.String(), "email"))
}
