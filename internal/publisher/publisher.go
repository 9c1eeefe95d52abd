package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/chainflow/relay-engine/internal/metrics"
	"github.com/chainflow/relay-engine/pkg/logger"
	"github.com/chainflow/relay-engine/pkg/model"
)

// jetStream is the slice of nats.JetStreamContext the publisher uses.
type jetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes canonical event envelopes
// for swap executions.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	service string
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, service: service}, nil
}

// NewWithJetStream wraps an existing JetStream context. Used by tests.
func NewWithJetStream(js jetStream, service string) *Publisher {
	return &Publisher{js: js, service: service}
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"execution_id", env.ExecutionID,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"execution_id", env.ExecutionID,
	)

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishSwapStatus emits a swap status event, one per step transition or
// terminal outcome.
func (p *Publisher) PublishSwapStatus(ctx context.Context, ev model.SwapStatusEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	eventType := "swap.status"
	if ev.Final {
		eventType = "swap.settled"
	}
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		RequestID:     ev.RequestID,
		ExecutionID:   ev.ExecutionID,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     ev.Timestamp,
		Payload:       payload,
	}

	subject := fmt.Sprintf("evt.swap.%s.v1", statusSubject(ev.Status))
	return p.PublishEnvelope(ctx, subject, env)
}

func statusSubject(s model.CheckStatus) string {
	if s == "" {
		return "progress"
	}
	return string(s)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
