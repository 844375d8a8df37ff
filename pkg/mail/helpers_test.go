package mail

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	netmail "net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecocircle/notifymail/pkg/config"
)

// fakeSender records envelopes instead of talking to a relay.
type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []*Envelope
}

func (f *fakeSender) Send(_ context.Context, env *Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return f.err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type smtpServerOptions struct {
	rejectAuth bool
	rejectRcpt bool
	// noAuth drops the AUTH extension from the EHLO reply.
	noAuth bool
	// authMechanisms overrides the advertised list, "PLAIN LOGIN" by default.
	authMechanisms string
}

// testSMTPServer is a minimal implicit-TLS SMTP server on a random port. It
// implements only the commands the sender issues and records what it saw.
type testSMTPServer struct {
	host  string
	port  int
	roots *x509.CertPool

	ln   net.Listener
	opts smtpServerOptions
	wg   sync.WaitGroup

	mu       sync.Mutex
	sessions int
	commands []string
	auth     []string
	messages []string
}

func startTestSMTPServer(t *testing.T, opts smtpServerOptions) *testSMTPServer {
	t.Helper()

	// Borrow httptest's certificate; it is valid for 127.0.0.1.
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	cert := ts.TLS.Certificates[0]
	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())
	ts.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	srv := &testSMTPServer{
		host:  "127.0.0.1",
		port:  ln.Addr().(*net.TCPAddr).Port,
		roots: roots,
		ln:    ln,
		opts:  opts,
	}
	srv.wg.Add(1)
	go srv.serve()
	t.Cleanup(srv.stop)
	return srv
}

func (s *testSMTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.sessions++
		s.mu.Unlock()
		s.handle(conn)
	}
}

func (s *testSMTPServer) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

func (s *testSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	if _, err := fmt.Fprintf(conn, "220 localhost Test SMTP Service Ready\r\n"); err != nil {
		return
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		s.record(verb)

		switch {
		case verb == "EHLO" || verb == "HELO":
			fmt.Fprintf(conn, "250-localhost Hello\r\n")
			if !s.opts.noAuth {
				mechs := s.opts.authMechanisms
				if mechs == "" {
					mechs = "PLAIN LOGIN"
				}
				fmt.Fprintf(conn, "250-AUTH %s\r\n", mechs)
			}
			fmt.Fprintf(conn, "250 OK\r\n")
		case verb == "AUTH":
			s.mu.Lock()
			s.auth = append(s.auth, line)
			s.mu.Unlock()
			if s.opts.rejectAuth {
				fmt.Fprintf(conn, "535 5.7.8 Authentication credentials invalid\r\n")
				continue
			}
			fmt.Fprintf(conn, "235 2.7.0 Authentication successful\r\n")
		case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM:"):
			fmt.Fprintf(conn, "250 OK\r\n")
		case strings.HasPrefix(strings.ToUpper(line), "RCPT TO:"):
			if s.opts.rejectRcpt {
				fmt.Fprintf(conn, "550 5.1.1 Mailbox unavailable\r\n")
				continue
			}
			fmt.Fprintf(conn, "250 OK\r\n")
		case verb == "DATA":
			fmt.Fprintf(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
			var b strings.Builder
			for {
				dline, derr := r.ReadString('\n')
				if derr != nil {
					return
				}
				if strings.TrimRight(dline, "\r\n") == "." {
					break
				}
				b.WriteString(strings.TrimPrefix(dline, "."))
			}
			s.mu.Lock()
			s.messages = append(s.messages, b.String())
			s.mu.Unlock()
			fmt.Fprintf(conn, "250 OK: queued as 12345\r\n")
		case verb == "QUIT":
			fmt.Fprintf(conn, "221 Bye\r\n")
			return
		case line == "*":
			fmt.Fprintf(conn, "501 Authentication cancelled\r\n")
		default:
			fmt.Fprintf(conn, "250 OK\r\n")
		}
	}
}

func (s *testSMTPServer) stop() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *testSMTPServer) snapshot() (sessions int, commands, auth, messages []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions, append([]string(nil), s.commands...), append([]string(nil), s.auth...), append([]string(nil), s.messages...)
}

// relayConfig points at the test server with the given credentials.
func (s *testSMTPServer) relayConfig(username, password string) config.RelayConfig {
	return config.RelayConfig{
		Host:     s.host,
		Port:     s.port,
		Username: username,
		Password: password,
		Sender:   config.Sender{Name: "EcoCircle Team"},
		Branding: config.Branding{Name: "EcoCircle", LinkExpiryMinutes: 15},
	}
}

// trust makes sender accept the test server's certificate, the way a
// system trust store would accept a real relay.
func (s *testSMTPServer) trust(snd Sender) {
	snd.(*sender).dialer.TLSConfig = &tls.Config{RootCAs: s.roots, ServerName: s.host}
}

func decodePlainAuth(t *testing.T, line string) (user, pass string) {
	t.Helper()
	fields := strings.Fields(line)
	require.Len(t, fields, 3, "expected AUTH PLAIN <initial-response>")
	require.Equal(t, "PLAIN", strings.ToUpper(fields[1]))
	raw, err := base64.StdEncoding.DecodeString(fields[2])
	require.NoError(t, err)
	parts := strings.Split(string(raw), "\x00")
	require.Len(t, parts, 3)
	return parts[1], parts[2]
}

// parseMIME returns the headers and decoded parts of a serialized message.
func parseMIME(t *testing.T, raw string) (netmail.Header, []Part) {
	t.Helper()
	msg, err := netmail.ReadMessage(strings.NewReader(raw))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	var parts []Part
	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		ct, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		require.NoError(t, err)
		parts = append(parts, Part{ContentType: ct, Body: string(body)})
	}
	return msg.Header, parts
}
