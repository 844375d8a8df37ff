package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ecocircle/notifymail/pkg/config"
)

// ErrTransport wraps every failure between dialing the relay and the relay
// accepting the message: connection, TLS handshake, authentication, recipient
// rejection and mid-transfer errors alike.
var ErrTransport = errors.New("relay transport failed")

// Sender delivers one envelope per call over one relay session.
type Sender interface {
	Send(ctx context.Context, env *Envelope) error
}

type sender struct {
	dialer *gomail.Dialer
	redact *strings.Replacer
	log    *zap.SugaredLogger
}

// NewSender returns a Sender that opens an implicit-TLS session to the relay
// (TLS from the first byte, no STARTTLS), authenticates with the configured
// account and submits a single message. Server certificates are verified
// against the system trust store.
func NewSender(cfg config.RelayConfig, log *zap.SugaredLogger) Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	// NewDialer only enables implicit TLS on 465.
	d.SSL = true
	// gomail negotiates AUTH only when the relay advertises it; a preset
	// Auth is always used, so an unauthenticated session never reaches MAIL.
	d.Auth = newRelayAuth(cfg.Username, cfg.Password, cfg.Host)

	pairs := []string{}
	for _, p := range []struct{ value, placeholder string }{
		{cfg.Password, "<redacted>"},
		{cfg.Username, "<account>"},
		{cfg.Host, "<relay>"},
	} {
		if p.value != "" {
			pairs = append(pairs, p.value, p.placeholder)
		}
	}

	return &sender{
		dialer: d,
		redact: strings.NewReplacer(pairs...),
		log:    log.Named("mail"),
	}
}

// Send makes exactly one delivery attempt. The session is closed on every
// path once it has been opened.
func (s *sender) Send(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.log.Debugw("Opening relay session", "to", env.To)
	sc, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("%w: opening session: %s", ErrTransport, s.redact.Replace(err.Error()))
	}

	accepted := false
	defer func() {
		if cerr := sc.Close(); cerr != nil {
			if accepted {
				s.log.Warnw("Relay accepted the message but the session did not close cleanly",
					"error", s.redact.Replace(cerr.Error()))
				return
			}
			s.log.Debugw("Closing failed relay session", "error", s.redact.Replace(cerr.Error()))
		}
	}()

	if err := gomail.Send(sc, env.Message()); err != nil {
		return fmt.Errorf("%w: submitting message: %s", ErrTransport, s.redact.Replace(err.Error()))
	}
	accepted = true
	return nil
}

// Outcome is the terminal result of one dispatch: Sent, or Failed with a reason.
type Outcome struct {
	sent   bool
	reason string
}

func Sent() Outcome {
	return Outcome{sent: true}
}

func Failed(reason string) Outcome {
	return Outcome{reason: reason}
}

func (o Outcome) IsSent() bool {
	return o.sent
}

// Reason is empty for Sent.
func (o Outcome) Reason() string {
	return o.reason
}

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	if o.sent {
		return 0
	}
	return 1
}

func (o Outcome) String() string {
	if o.sent {
		return "sent"
	}
	return "failed: " + o.reason
}

// Dispatch hands env to s once and folds any error into Failed. Failures are
// not classified; the caller decides whether to try again later.
func Dispatch(ctx context.Context, s Sender, env *Envelope) Outcome {
	if err := s.Send(ctx, env); err != nil {
		return Failed(err.Error())
	}
	return Sent()
}
