package mail

import (
	"context"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/resilience"
)

// Resilient wraps a mail gateway with the retry and circuit-breaker policy
// the raw client deliberately leaves out. Retries stay inside one breaker
// execution so a flapping gateway trips the breaker on the whole attempt,
// not on each individual retry.
type Resilient struct {
	inner   ports.MailGateway
	breaker *resilience.CircuitBreaker
}

// NewResilient wraps inner with the delivery policy used for outbound mail.
func NewResilient(inner ports.MailGateway) *Resilient {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.Name = "mail-gateway"
	return &Resilient{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker(cfg),
	}
}

// SendEmail implements ports.MailGateway.
func (r *Resilient) SendEmail(ctx context.Context, historyID, to, subject, htmlBody string) (string, error) {
	var providerMessageID string
	err := r.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return resilience.RetryWithOptions(ctx, func(ctx context.Context) error {
			id, sendErr := r.inner.SendEmail(ctx, historyID, to, subject, htmlBody)
			if sendErr != nil {
				return sendErr
			}
			providerMessageID = id
			return nil
		},
			resilience.WithMaxAttempts(3),
			resilience.WithInitialDelay(200*time.Millisecond),
		)
	})
	if err != nil {
		return "", err
	}
	return providerMessageID, nil
}
