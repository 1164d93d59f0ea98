package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes deal lifecycle events to NATS for
// consumption by the platform notifications service, which owns the
// actual delivery transport (in-app, webhook, SMTP).
//
// Subject convention: notifications.deals.<event_type>
// Event types: status_changed, deal_approved, closing_milestone,
//              sponsor_email
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt a
// lifecycle transition that has already been persisted.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// DealEvent is the JSON schema published to NATS.
type DealEvent struct {
	EventType   string                 `json:"event_type"`
	DealID      string                 `json:"deal_id"`
	ProjectName string                 `json:"project_name"`
	Severity    string                 `json:"severity,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given
// NATS connection. A nil connection yields a publisher that drops
// everything, which keeps local development working without a broker.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// StatusChanged announces a generic status change.
func (p *NotificationPublisher) StatusChanged(ctx context.Context, dealID, projectName, statusLabel string) {
	p.publish(ctx, &DealEvent{
		EventType:   "status_changed",
		DealID:      dealID,
		ProjectName: projectName,
		Severity:    "info",
		Category:    "deal_lifecycle",
		Payload:     map[string]interface{}{"status_label": statusLabel},
	})
}

// DealApproved announces that a deal passed review.
func (p *NotificationPublisher) DealApproved(ctx context.Context, dealID, projectName string) {
	p.publish(ctx, &DealEvent{
		EventType:   "deal_approved",
		DealID:      dealID,
		ProjectName: projectName,
		Severity:    "info",
		Category:    "deal_lifecycle",
	})
}

// ClosingMilestone announces progress through the closing pipeline
// (term sheet issued, closing in progress, funding complete).
func (p *NotificationPublisher) ClosingMilestone(ctx context.Context, dealID, projectName, milestone, stage string) {
	p.publish(ctx, &DealEvent{
		EventType:   "closing_milestone",
		DealID:      dealID,
		ProjectName: projectName,
		Severity:    "info",
		Category:    "deal_closing",
		Payload: map[string]interface{}{
			"milestone": milestone,
			"stage":     stage,
		},
	})
}

// SendSponsorEmail requests an email to the deal's sponsor. Delivery
// is owned by the notifications service; this only carries the call
// shape (recipient, name, project, deal).
func (p *NotificationPublisher) SendSponsorEmail(ctx context.Context, email, fullName, projectName, dealID string) {
	p.publish(ctx, &DealEvent{
		EventType:   "sponsor_email",
		DealID:      dealID,
		ProjectName: projectName,
		Severity:    "info",
		Category:    "deal_lifecycle",
		Payload: map[string]interface{}{
			"recipient_email": email,
			"recipient_name":  fullName,
		},
	})
}

func (p *NotificationPublisher) publish(ctx context.Context, event *DealEvent) {
	if p.nc == nil {
		return
	}
	if ctx.Err() != nil {
		p.log.Warn().Str("event_type", event.EventType).Msg("notification: dispatch deadline expired, dropping event")
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.deals.%s", event.EventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("deal_id", event.DealID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("deal_id", event.DealID).
		Msg("notification: event published")
}
