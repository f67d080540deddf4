package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CurveDesk/internal/fees"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// ConfigStream carries fee-configuration writes from the external
	// configuration collaborator.
	ConfigStream = "CURVEDESK_CONFIG"

	configSubject  = "curvedesk.config.fees"
	configConsumer = "curvedesk-fee-config"
)

// ConfigSubscriber applies fee-config writes to the fees.Manager. Updates
// are validated at write time: an invalid config is rejected here and the
// previous config stays effective for every later trade.
type ConfigSubscriber struct {
	js       jetstream.JetStream
	mgr      *fees.Manager
	onUpdate func(fees.FeeConfig) // optional, invoked after an accepted write
	log      zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

func NewConfigSubscriber(js jetstream.JetStream, mgr *fees.Manager, onUpdate func(fees.FeeConfig), log zerolog.Logger) *ConfigSubscriber {
	return &ConfigSubscriber{js: js, mgr: mgr, onUpdate: onUpdate, log: log}
}

// EnsureConfigStream creates or updates the inbound config stream.
func EnsureConfigStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      ConfigStream,
		Subjects:  []string{configSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create config stream: %w", err)
	}
	return nil
}

// Subscribe starts consuming config writes.
func (cs *ConfigSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, ConfigStream, jetstream.ConsumerConfig{
		Durable:       configConsumer,
		FilterSubject: configSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPolicy,
	})
	if err != nil {
		return fmt.Errorf("create config consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		cs.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume config: %w", err)
	}
	cs.consumeCtx = cc
	return nil
}

// Stop drains the consumer.
func (cs *ConfigSubscriber) Stop() {
	if cs.consumeCtx != nil {
		cs.consumeCtx.Stop()
	}
}

func (cs *ConfigSubscriber) handle(msg jetstream.Msg) {
	var cfg fees.FeeConfig
	if err := json.Unmarshal(msg.Data(), &cfg); err != nil {
		// Malformed writes will not improve on redelivery.
		cs.log.Error().Err(err).Msg("malformed fee config, dropping")
		msg.Ack()
		return
	}

	if err := cs.mgr.Update(cfg); err != nil {
		cs.log.Error().Err(err).Msg("fee config rejected, previous config stays effective")
		msg.Ack()
		return
	}

	cs.log.Info().
		Int64("total_fee_bps", cfg.TotalFeeBps).
		Int64("creator_share_bps", cfg.CreatorShareBps).
		Int64("burn_share_bps", cfg.BurnShareBps).
		Msg("fee config updated")

	if cs.onUpdate != nil {
		cs.onUpdate(cfg)
	}
	msg.Ack()
}
