package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Request event types.
const (
	EventRequestSubmitted        = "request_submitted"
	EventRequestApprovalRequired = "request_approval_required"
	EventRequestApproved         = "request_approved"
	EventRequestRejected         = "request_rejected"
)

// Transport delivers an encoded event on a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NotificationPublisher publishes approval workflow events for consumption by
// the notifications service.
//
// Subject convention: <prefix>.<event_type>
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	transport Transport
	prefix    string
	log       zerolog.Logger
}

// NotificationEvent is the JSON document published for every event.
type NotificationEvent struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher. A nil transport disables
// publishing.
func NewNotificationPublisher(transport Transport, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{transport: transport, prefix: prefix, log: log}
}

// PublishRequestEvent publishes a request lifecycle event.
func (p *NotificationPublisher) PublishRequestEvent(ctx context.Context, eventType string, requestID, actorID int64, recipients []int64, payload map[string]any) {
	if p == nil || p.transport == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = strconv.FormatInt(r, 10)
	}

	event := &NotificationEvent{
		ID:           uuid.NewString(),
		EventType:    eventType,
		ActorID:      strconv.FormatInt(actorID, 10),
		Recipients:   ids,
		ResourceType: "request",
		ResourceID:   strconv.FormatInt(requestID, 10),
		IsActionable: eventType == EventRequestSubmitted || eventType == EventRequestApprovalRequired,
		ActionURL:    fmt.Sprintf("/requests/%d", requestID),
		Severity:     severityFor(eventType),
		Category:     "oa_approval",
		Payload:      payload,
		OccurredAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, eventType)
	if err := p.transport.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Int64("request_id", requestID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Int64("request_id", requestID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// Close releases the underlying transport.
func (p *NotificationPublisher) Close() error {
	if p == nil || p.transport == nil {
		return nil
	}
	return p.transport.Close()
}

func severityFor(eventType string) string {
	if eventType == EventRequestRejected {
		return "warning"
	}
	return "info"
}

// ── transports ────────────────────────────────────────────────────────────────

// NATSTransport publishes core NATS messages.
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATSTransport connects to the NATS server at url.
func NewNATSTransport(url, name string) (*NATSTransport, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSTransport{conn: conn}, nil
}

func (t *NATSTransport) Publish(_ context.Context, subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

// Close drains pending messages before closing the connection.
func (t *NATSTransport) Close() error {
	return t.conn.Drain()
}

// WatermillTransport publishes through a watermill publisher, typically the
// in-process gochannel pub/sub.
type WatermillTransport struct {
	pub message.Publisher
}

// NewWatermillTransport wraps pub.
func NewWatermillTransport(pub message.Publisher) *WatermillTransport {
	return &WatermillTransport{pub: pub}
}

func (t *WatermillTransport) Publish(ctx context.Context, subject string, data []byte) error {
	msg := message.NewMessage(uuid.NewString(), data)
	msg.SetContext(ctx)
	return t.pub.Publish(subject, msg)
}

func (t *WatermillTransport) Close() error {
	return t.pub.Close()
}
