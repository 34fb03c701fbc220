package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PoolVault/internal/observability"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw events
// into the vault core via the eventChan. JetStream is the only write surface:
// every state change arrives as a message on one of the vault.* subjects.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Received  time.Time
	AckFunc   func() // ACK after the core accepted (or deduplicated) the event
	NakFunc   func() // NAK on parse/validation failure (redelivered up to MaxDeliver)
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Policy
// lifecycle events share the VAULT_POLICIES stream so a single upstream
// sequence orders reserve/premium/settle/release per policy.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "vault.providers.deposit.>", EventType: "ProviderDeposit", ConsumerName: "vault-deposits", StreamName: "VAULT_PROVIDERS"},
		{Subject: "vault.providers.withdraw.>", EventType: "ProviderWithdrawal", ConsumerName: "vault-withdrawals", StreamName: "VAULT_PROVIDERS"},
		{Subject: "vault.providers.claim.>", EventType: "PremiumClaim", ConsumerName: "vault-claims", StreamName: "VAULT_PROVIDERS"},
		{Subject: "vault.policies.reserve.>", EventType: "PolicyReserve", ConsumerName: "vault-reserves", StreamName: "VAULT_POLICIES"},
		{Subject: "vault.policies.premium.>", EventType: "PolicyPremium", ConsumerName: "vault-premiums", StreamName: "VAULT_POLICIES"},
		{Subject: "vault.policies.distribute.>", EventType: "PremiumDistribute", ConsumerName: "vault-distributions", StreamName: "VAULT_POLICIES"},
		{Subject: "vault.policies.settle.>", EventType: "PolicySettle", ConsumerName: "vault-settlements", StreamName: "VAULT_POLICIES"},
		{Subject: "vault.policies.release.>", EventType: "PolicyRelease", ConsumerName: "vault-releases", StreamName: "VAULT_POLICIES"},
		{Subject: "vault.admin.tier.>", EventType: "TierUpdate", ConsumerName: "vault-tier-updates", StreamName: "VAULT_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("ingestion"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Received:  time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h; the Postgres event
// log is the durable record, the streams only buffer in-flight messages.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("ingestion")

	streams := []jetstream.StreamConfig{
		{
			Name:      "VAULT_PROVIDERS",
			Subjects:  []string{"vault.providers.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_POLICIES",
			Subjects:  []string{"vault.policies.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_ADMIN",
			Subjects:  []string{"vault.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
