package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// collectEmails merges file and argument entries: file entries first,
// trimmed and lower-cased, blanks dropped, first occurrence kept.
func collectEmails(fileEmails, argEmails []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]string{fileEmails, argEmails} {
		for _, raw := range group {
			email := strings.ToLower(strings.TrimSpace(raw))
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			out = append(out, email)
		}
	}
	return out
}

// readLines returns the lines of the file at path.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
