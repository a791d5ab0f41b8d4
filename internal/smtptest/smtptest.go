// Package smtptest provides an in-memory network of fake SMTP servers for
// tests. Connections are net.Pipe pairs, so no sockets are opened.
package smtptest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// ErrRefused is returned when dialing a host that is not registered.
var ErrRefused = errors.New("connection refused")

// Server scripts one fake mail host.
type Server struct {
	// Banner is sent on connect. Empty means the server never greets.
	Banner string
	// Responses maps a command prefix (e.g. "RCPT TO") to the raw reply.
	// Multi-line replies are separated by "\r\n". Unmatched commands get
	// no reply at all.
	Responses map[string]string
	// DialErr, when set, is returned instead of a connection.
	DialErr error
}

// Accepting returns a server that accepts every step with replies ending
// in rcpt for RCPT TO.
func Accepting(rcpt string) *Server {
	return &Server{
		Banner: "220 mx.test ESMTP",
		Responses: map[string]string{
			"EHLO":      "250-mx.test hello\r\n250 PIPELINING",
			"HELO":      "250 mx.test",
			"MAIL FROM": "250 2.1.0 OK",
			"RCPT TO":   rcpt,
		},
	}
}

// Network routes dials by host name to scripted servers.
type Network struct {
	mu       sync.Mutex
	servers  map[string]*Server
	dials    []string
	commands map[string][]string
}

// NewNetwork creates a network with the given hosts.
func NewNetwork(servers map[string]*Server) *Network {
	if servers == nil {
		servers = make(map[string]*Server)
	}
	return &Network{servers: servers, commands: make(map[string][]string)}
}

// Dial has the signature of smtpsession.DialFunc.
func (n *Network) Dial(_ context.Context, _, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}

	n.mu.Lock()
	n.dials = append(n.dials, host)
	srv := n.servers[host]
	n.mu.Unlock()

	if srv == nil {
		return nil, fmt.Errorf("dial tcp %s: %w", address, ErrRefused)
	}
	if srv.DialErr != nil {
		return nil, srv.DialErr
	}

	client, server := net.Pipe()
	go n.serve(host, server, srv)
	return client, nil
}

// Dials returns how often host was dialed.
func (n *Network) Dials(host string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, h := range n.dials {
		if h == host {
			count++
		}
	}
	return count
}

// TotalDials returns the number of dials to any host.
func (n *Network) TotalDials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dials)
}

// Commands returns the commands host received, in order.
func (n *Network) Commands(host string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.commands[host]...)
}

func (n *Network) serve(host string, conn net.Conn, srv *Server) {
	defer func() { _ = conn.Close() }()

	if srv.Banner == "" {
		// Hold the connection open without greeting until the client leaves.
		_, _ = conn.Read(make([]byte, 1))
		return
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", srv.Banner); err != nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		nr, err := conn.Read(buf)
		if err != nil {
			return
		}
		cmd := strings.TrimRight(string(buf[:nr]), "\r\n")

		n.mu.Lock()
		n.commands[host] = append(n.commands[host], cmd)
		n.mu.Unlock()

		if strings.HasPrefix(cmd, "QUIT") {
			_, _ = fmt.Fprintf(conn, "221 Bye\r\n")
			return
		}
		for prefix, resp := range srv.Responses {
			if strings.HasPrefix(cmd, prefix) {
				_, _ = fmt.Fprintf(conn, "%s\r\n", resp)
				break
			}
		}
	}
}
