package mail

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecocircle/notifymail/pkg/config"
	"github.com/ecocircle/notifymail/pkg/metrics"
	"github.com/ecocircle/notifymail/pkg/system"
)

// Notifier runs the render, build and dispatch pipeline for one request.
// It keeps no state between calls: two identical requests are two deliveries.
type Notifier struct {
	cfg      config.RelayConfig
	renderer *Renderer
	sender   Sender
	log      *zap.SugaredLogger
	newID    func() string
}

func NewNotifier(cfg config.RelayConfig, sender Sender, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		renderer: NewRenderer(cfg.Branding),
		sender:   sender,
		log:      log.Named("notifier"),
		newID:    uuid.NewString,
	}
}

// Prepare renders and addresses req without contacting the relay.
func (n *Notifier) Prepare(req NotificationRequest) (*Envelope, error) {
	msg, err := n.renderer.Render(req)
	if err != nil {
		return nil, err
	}
	env := Build(msg, n.cfg, req.RecipientAddress)
	env.MessageID = n.newID() + "@" + messageIDDomain(env.FromAddress)
	return &env, nil
}

// Notify makes a single delivery attempt for req.
func (n *Notifier) Notify(ctx context.Context, req NotificationRequest) Outcome {
	kind := string(req.kind())
	env, err := n.Prepare(req)
	if err != nil {
		metrics.MailRenderFailure.WithLabelValues(kind).Inc()
		n.log.Errorw("Failed to render notification", "kind", kind, "recipient", req.RecipientAddress, "error", err)
		return Failed(err.Error())
	}

	log := n.log.With(system.RecipientFields(env.MessageID, kind, env.To)...)
	log.Infow("Sending notification")

	start := time.Now()
	outcome := Dispatch(ctx, n.sender, env)
	elapsed := time.Since(start)

	if !outcome.IsSent() {
		metrics.MailSendFailure.WithLabelValues(kind).Inc()
		metrics.DispatchDuration.WithLabelValues(kind, "failed").Observe(elapsed.Seconds())
		log.Errorw("Notification was not accepted by the relay", "reason", outcome.Reason(), "duration", elapsed)
		return outcome
	}

	metrics.MailSendSuccess.WithLabelValues(kind).Inc()
	metrics.DispatchDuration.WithLabelValues(kind, "sent").Observe(elapsed.Seconds())
	log.Infow("Notification accepted by the relay", "duration", elapsed)
	return outcome
}

func messageIDDomain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "notifymail.local"
}
