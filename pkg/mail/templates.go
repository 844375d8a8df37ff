package mail

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/ecocircle/notifymail/pkg/config"
)

// Kind identifies a notification template.
type Kind string

const (
	KindPasswordReset Kind = "password_reset"
)

// ErrRender is returned when a notification cannot be rendered.
var ErrRender = errors.New("render failed")

// NotificationRequest is what the caller asks to be delivered.
type NotificationRequest struct {
	RecipientAddress string
	ActionURL        string
	// RecipientName is used in the greeting; templates fall back to "User".
	RecipientName string
	// Kind defaults to KindPasswordReset.
	Kind Kind
}

func (r NotificationRequest) kind() Kind {
	if r.Kind == "" {
		return KindPasswordReset
	}
	return r.Kind
}

// RenderedMessage is the subject and both bodies of a notification.
type RenderedMessage struct {
	Subject   string
	PlainBody string
	HTMLBody  string
}

type templateSet struct {
	subject *template.Template
	plain   *template.Template
	html    *template.Template
}

// templateData is the only thing the templates can see.
type templateData struct {
	RecipientName     string
	ActionURL         string
	BrandingName      string
	LinkExpiryMinutes int
}

var (
	//go:embed templates/*.tmpl
	templateFS embed.FS

	templates = map[Kind]templateSet{}
)

func init() {
	for _, kind := range []Kind{KindPasswordReset} {
		set, err := parseTemplateSet(kind)
		if err != nil {
			panic(err)
		}
		templates[kind] = set
	}
}

// parseTemplateSet loads <kind>_subject.tmpl, <kind>.txt.tmpl and <kind>.html.tmpl.
// All three are text templates: the action URL must reach the HTML body
// byte-for-byte, which html/template would rewrite.
func parseTemplateSet(kind Kind) (templateSet, error) {
	parse := func(suffix string) (*template.Template, error) {
		name := string(kind) + suffix
		raw, err := templateFS.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		return tmpl, nil
	}

	var set templateSet
	var err error
	if set.subject, err = parse("_subject.tmpl"); err != nil {
		return set, err
	}
	if set.plain, err = parse(".txt.tmpl"); err != nil {
		return set, err
	}
	if set.html, err = parse(".html.tmpl"); err != nil {
		return set, err
	}
	return set, nil
}

// Renderer turns notification requests into messages. It is pure: the same
// request always yields the same RenderedMessage.
type Renderer struct {
	branding config.Branding
}

func NewRenderer(branding config.Branding) *Renderer {
	if branding.Name == "" {
		branding.Name = config.DefaultBrandingName
	}
	if branding.LinkExpiryMinutes <= 0 {
		branding.LinkExpiryMinutes = config.DefaultLinkExpiryMinutes
	}
	return &Renderer{branding: branding}
}

// Render fills the templates for req.Kind. The action URL is inserted verbatim.
func (r *Renderer) Render(req NotificationRequest) (RenderedMessage, error) {
	set, ok := templates[req.kind()]
	if !ok {
		return RenderedMessage{}, fmt.Errorf("%w: unknown notification kind %q", ErrRender, req.kind())
	}

	data := templateData{
		RecipientName:     req.RecipientName,
		ActionURL:         req.ActionURL,
		BrandingName:      r.branding.Name,
		LinkExpiryMinutes: r.branding.LinkExpiryMinutes,
	}

	subject, err := render(set.subject, data)
	if err != nil {
		return RenderedMessage{}, err
	}
	plain, err := render(set.plain, data)
	if err != nil {
		return RenderedMessage{}, err
	}
	html, err := render(set.html, data)
	if err != nil {
		return RenderedMessage{}, err
	}

	return RenderedMessage{
		Subject:   strings.TrimSpace(subject),
		PlainBody: plain,
		HTMLBody:  html,
	}, nil
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	if err := t.Execute(&b, p); err != nil {
		return "", fmt.Errorf("%w: executing %s: %v", ErrRender, t.Name(), err)
	}
	return b.String(), nil
}
