// Package publish handles the NATS surface: outbound settlement events for
// downstream consumers and the inbound fee-configuration subject.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CurveDesk/internal/observability"
	"CurveDesk/internal/record"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// OutboundStream holds every published settlement record.
	OutboundStream = "CURVEDESK_SETTLEMENTS"

	outboundPrefix = "curvedesk.settlements"
)

// OutboundEvent is the wire shape of a published settlement record.
type OutboundEvent struct {
	Sequence  int64           `json:"sequence"`
	Ref       string          `json:"ref"`
	EventType string          `json:"event_type"`
	Symbol    *string         `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash []byte          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher drains the publish channel onto JetStream. Publishing is
// best-effort: a failure is logged and counted, never retried into the
// settlement path. Consumers that need completeness read the log.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan record.Output
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan record.Output, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, inputChan: inputChan, metrics: metrics, log: log}
}

// Run blocks until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				p.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishFails.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out record.Output) error {
	env := out.Envelope
	data, err := json.Marshal(OutboundEvent{
		Sequence:  env.Sequence,
		Ref:       env.Ref,
		EventType: env.EventType.String(),
		Symbol:    env.Symbol,
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		Timestamp: env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", outboundPrefix, env.EventType.String())
	if env.Symbol != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.Symbol)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates or updates the outbound settlement stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStream,
		Subjects:  []string{outboundPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
