package mail

import (
	"bytes"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// ErrNoAuth means the relay did not offer a mechanism the sender can use.
// The session is abandoned before any message transaction.
var ErrNoAuth = errors.New("relay offers no supported authentication mechanism")

// relayAuth picks a mechanism from the relay's EHLO AUTH list, preferring
// CRAM-MD5, then PLAIN, then LOGIN. It always runs, so a relay that
// advertises no AUTH at all fails the session instead of accepting an
// unauthenticated submission.
type relayAuth struct {
	username string
	password string
	host     string

	chosen smtp.Auth
}

func newRelayAuth(username, password, host string) *relayAuth {
	return &relayAuth{username: username, password: password, host: host}
}

func (a *relayAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("refusing to authenticate over an unencrypted connection")
	}

	offered := make(map[string]bool, len(server.Auth))
	for _, m := range server.Auth {
		offered[strings.ToUpper(m)] = true
	}

	switch {
	case offered["CRAM-MD5"]:
		a.chosen = smtp.CRAMMD5Auth(a.username, a.password)
	case offered["PLAIN"]:
		a.chosen = smtp.PlainAuth("", a.username, a.password, a.host)
	case offered["LOGIN"]:
		a.chosen = &loginAuth{username: a.username, password: a.password}
	default:
		return "", nil, fmt.Errorf("%w (offered: %q)", ErrNoAuth, strings.Join(server.Auth, " "))
	}
	return a.chosen.Start(server)
}

func (a *relayAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if a.chosen == nil {
		return nil, ErrNoAuth
	}
	return a.chosen.Next(fromServer, more)
}

// loginAuth implements the non-standard LOGIN mechanism, which net/smtp lacks.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch {
	case bytes.EqualFold(fromServer, []byte("Username:")):
		return []byte(a.username), nil
	case bytes.EqualFold(fromServer, []byte("Password:")):
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}
