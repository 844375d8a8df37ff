package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job label for every notifymail process.
const JobName = "notifymail"

var (
	// Registry holds only notifymail metrics so a push does not carry the
	// Go runtime collectors of a process that lives for a second.
	Registry = prometheus.NewRegistry()

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifymail_mail_send_success_total",
		Help: "Total number of notifications accepted by the relay",
	}, []string{"kind"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifymail_mail_send_failure_total",
		Help: "Total number of notifications the relay did not accept",
	}, []string{"kind"})
	MailRenderFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifymail_mail_render_failure_total",
		Help: "Total number of notifications that could not be rendered",
	}, []string{"kind"})
	// DispatchDuration covers dial, TLS handshake, authentication and the
	// message transaction.
	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifymail_dispatch_duration_seconds",
		Help:    "Duration of a single relay session",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind", "outcome"})
)

func init() {
	Registry.MustRegister(MailSendSuccess)
	Registry.MustRegister(MailSendFailure)
	Registry.MustRegister(MailRenderFailure)
	Registry.MustRegister(DispatchDuration)
}

// Push sends the current state of Registry to the Pushgateway at url.
// An empty url disables pushing.
func Push(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, JobName).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
