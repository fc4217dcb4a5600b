// Package notify publishes entitlement changes for the rest of the platform.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
)

// DefaultSubject is the subject prefix; the tenant ID is appended.
const DefaultSubject = "memberhub.entitlement.changed"

// EntitlementChanged is the message body.
type EntitlementChanged struct {
	TenantID           string     `json:"tenant_id"`
	Plan               string     `json:"plan"`
	SubscriptionStatus string     `json:"subscription_status"`
	PeriodEnd          *time.Time `json:"subscription_period_end,omitempty"`
	CancelAt           *time.Time `json:"subscription_cancel_at,omitempty"`
	UpdatedAt          time.Time  `json:"subscription_updated_at"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements billing.Notifier over a NATS connection.
type NATSPublisher struct {
	conn    publisher
	subject string
	logger  *slog.Logger
}

var _ billing.Notifier = (*NATSPublisher)(nil)

// Connect dials NATS with reconnects enabled for the life of the process.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("memberhub-billing"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NewNATSPublisher creates a publisher. An empty subject uses DefaultSubject.
func NewNATSPublisher(conn *nats.Conn, subject string, logger *slog.Logger) *NATSPublisher {
	return newPublisher(conn, subject, logger)
}

func newPublisher(conn publisher, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With("service", "notify"),
	}
}

// Subject returns the subject a tenant's changes are published on.
func (p *NATSPublisher) Subject(tenantID string) string {
	return p.subject + "." + tenantID
}

// EntitlementChanged publishes the committed state. Delivery is at most once;
// consumers that need certainty read the store.
func (p *NATSPublisher) EntitlementChanged(_ context.Context, ent domain.TenantEntitlement) error {
	msg := EntitlementChanged{
		TenantID:           ent.TenantID.String(),
		Plan:               string(ent.Plan),
		SubscriptionStatus: string(ent.Status),
		CancelAt:           ent.CancelAt,
		UpdatedAt:          ent.UpdatedAt,
	}
	if !ent.PeriodEnd.IsZero() {
		end := ent.PeriodEnd
		msg.PeriodEnd = &end
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal entitlement change: %w", err)
	}

	subject := p.Subject(msg.TenantID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug("entitlement change published", "subject", subject)
	return nil
}
