/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans local events out to NATS so external consumers
// (notification pipelines, other dashboard instances) can observe scan and
// review activity.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/mikl0s/PLM/internal/events"
)

const subjectPrefix = "plm.events."

// NATSBus bridges the in-process event bus onto NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	stop chan struct{}
	subs []events.Subscriber
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// NewNATSBus connects to NATS and starts forwarding the given event types
// from the local bus.
func NewNATSBus(cfg NATSConfig, bus *events.Bus, forward []events.EventType, logger zerolog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	nb := &NATSBus{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: uuid.NewString(),
		stop:   make(chan struct{}),
	}

	for _, eventType := range forward {
		sub := bus.Subscribe(eventType)
		nb.subs = append(nb.subs, sub)
		go nb.forward(eventType, sub)
	}

	nb.logger.Info().Str("url", cfg.URL).Msg("NATS event fan-out started")
	return nb, nil
}

func (nb *NATSBus) forward(eventType events.EventType, sub events.Subscriber) {
	for {
		select {
		case <-nb.stop:
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := nb.publish(eventType, payload); err != nil {
				nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("failed to publish event to NATS")
			}
		}
	}
}

func (nb *NATSBus) publish(eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("marshal nats message: %w", err)
	}
	return nb.conn.Publish(subjectPrefix+string(eventType), data)
}

// Close stops forwarding and drains the NATS connection.
func (nb *NATSBus) Close() error {
	close(nb.stop)
	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			nb.conn.Close()
			return err
		}
	}
	return nil
}
