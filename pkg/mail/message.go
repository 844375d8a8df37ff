package mail

import (
	"io"

	"gopkg.in/gomail.v2"

	"github.com/ecocircle/notifymail/pkg/config"
)

const (
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html"
)

// Part is one representation of the message body.
type Part struct {
	ContentType string
	Body        string
}

// Envelope is a fully addressed multipart/alternative message for a single
// recipient. Parts always holds the plain text part first and the HTML part
// second, so clients that cannot render HTML fall back to text.
type Envelope struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	// MessageID is set per delivery attempt; empty means no Message-ID header.
	MessageID string
	Parts     []Part
}

// Build addresses a rendered message. The recipient is not validated here;
// the relay is the authority on what it accepts.
func Build(msg RenderedMessage, cfg config.RelayConfig, to string) Envelope {
	return Envelope{
		FromName:    cfg.Sender.Name,
		FromAddress: cfg.FromAddress(),
		To:          to,
		Subject:     msg.Subject,
		Parts: []Part{
			{ContentType: ContentTypePlain, Body: msg.PlainBody},
			{ContentType: ContentTypeHTML, Body: msg.HTMLBody},
		},
	}
}

// fromHeader returns the From header value in display-name form.
func (e *Envelope) fromHeader() string {
	return gomail.NewMessage().FormatAddress(e.FromAddress, e.FromName)
}

// Message converts the envelope into a gomail message. The first part becomes
// the body and the rest are added as alternatives in order, which gomail
// serialises as multipart/alternative.
func (e *Envelope) Message() *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", e.fromHeader())
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	if e.MessageID != "" {
		msg.SetHeader("Message-ID", "<"+e.MessageID+">")
	}
	for i, p := range e.Parts {
		if i == 0 {
			msg.SetBody(p.ContentType, p.Body)
			continue
		}
		msg.AddAlternative(p.ContentType, p.Body)
	}
	return msg
}

// WriteTo writes the RFC 5322 form of the envelope to w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	return e.Message().WriteTo(w)
}
