package publish_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"CurveDesk/internal/event"
	"CurveDesk/internal/fees"
	"CurveDesk/internal/observability"
	"CurveDesk/internal/publish"
	"CurveDesk/internal/record"
	"CurveDesk/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

func connectTestNATS(t *testing.T) jetstream.JetStream {
	t.Helper()
	testutil.RequireIntegration(t)

	nc, js, err := publish.ConnectNATS(testutil.TestNATSURL(), observability.NewLogger("test"))
	if err != nil {
		t.Skipf("test nats not available: %v (start with: docker compose -f docker-compose.test.yml up -d)", err)
	}
	t.Cleanup(nc.Close)
	return js
}

func testOutput(seq int64, symbol string) record.Output {
	payload, _ := json.Marshal(map[string]int64{"amount": 42})
	sym := symbol
	return record.Output{
		Envelope: &event.Envelope{
			Sequence:  seq,
			Ref:       uuid.NewString(),
			EventType: event.EventTypeTradeSettled,
			Symbol:    &sym,
			Timestamp: time.Now(),
			Payload:   payload,
		},
	}
}

func TestPublisherRoutesSettlementSubjects(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := publish.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("ensure outbound stream: %v", err)
	}

	// Ephemeral consumer created before publishing, so only this test's
	// messages are delivered.
	consumer, err := js.CreateOrUpdateConsumer(ctx, publish.OutboundStream, jetstream.ConsumerConfig{
		FilterSubject: "curvedesk.settlements.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	inputChan := make(chan record.Output, 4)
	pub := publish.NewPublisher(js, inputChan, nil, observability.NewLogger("test"))

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	out := testOutput(7, "MEME")
	inputChan <- out
	close(inputChan)
	if err := <-done; err != nil {
		t.Fatalf("publisher run: %v", err)
	}

	msg, err := consumer.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("fetch published message: %v", err)
	}
	msg.Ack()

	wantSubject := "curvedesk.settlements." + event.EventTypeTradeSettled.String() + ".MEME"
	if msg.Subject() != wantSubject {
		t.Errorf("subject = %q, want %q", msg.Subject(), wantSubject)
	}

	var wire publish.OutboundEvent
	if err := json.Unmarshal(msg.Data(), &wire); err != nil {
		t.Fatalf("unmarshal outbound event: %v", err)
	}
	if wire.Sequence != 7 || wire.Ref != out.Envelope.Ref {
		t.Errorf("wire = {seq %d, ref %s}, want {seq 7, ref %s}", wire.Sequence, wire.Ref, out.Envelope.Ref)
	}
}

func TestConfigSubscriberAppliesValidUpdateOnly(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := publish.EnsureConfigStream(ctx, js); err != nil {
		t.Fatalf("ensure config stream: %v", err)
	}

	mgr, err := fees.NewManager(fees.FeeConfig{
		TotalFeeBps:      100,
		CreatorShareBps:  5_000,
		BurnShareBps:     2_000,
		ProtocolShareBps: 4_000,
		ReferrerShareBps: 4_000,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	applied := make(chan fees.FeeConfig, 4)
	sub := publish.NewConfigSubscriber(js, mgr, func(cfg fees.FeeConfig) { applied <- cfg }, observability.NewLogger("test"))
	if err := sub.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	valid := fees.FeeConfig{
		TotalFeeBps:      250,
		CreatorShareBps:  5_000,
		BurnShareBps:     3_000,
		ProtocolShareBps: 5_000,
		ReferrerShareBps: 2_000,
	}
	data, _ := json.Marshal(valid)
	if _, err := js.Publish(ctx, "curvedesk.config.fees", data); err != nil {
		t.Fatalf("publish config: %v", err)
	}

	select {
	case got := <-applied:
		if got.TotalFeeBps != 250 {
			t.Errorf("applied total fee = %d, want 250", got.TotalFeeBps)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("config update never applied")
	}
	if cur := mgr.Current(); cur.TotalFeeBps != 250 {
		t.Errorf("current total fee = %d, want 250", cur.TotalFeeBps)
	}

	// Shares that do not sum to 10000 are rejected at write time and the
	// previous config stays effective.
	invalid := valid
	invalid.BurnShareBps = 9_999
	data, _ = json.Marshal(invalid)
	if _, err := js.Publish(ctx, "curvedesk.config.fees", data); err != nil {
		t.Fatalf("publish invalid config: %v", err)
	}

	time.Sleep(2 * time.Second)
	if cur := mgr.Current(); cur.TotalFeeBps != 250 || cur.BurnShareBps != 3_000 {
		t.Errorf("config changed after invalid write: %+v", cur)
	}
	select {
	case got := <-applied:
		t.Errorf("invalid config applied: %+v", got)
	default:
	}
}
