/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package natsbridge republishes AutoMix lifecycle events onto a NATS
// subject, for any out-of-process consumer (UI, queue) that cannot reach
// the in-process events.Bus directly. It is a pure fan-out: the engine
// itself never reads from NATS.
package natsbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/events"
)

var automixEventTypes = []events.EventType{
	events.EventAutomixStateChanged,
	events.EventAutomixPlanReady,
	events.EventAutomixPlanRejected,
	events.EventAutomixTransitionStart,
	events.EventAutomixTransitionEnd,
	events.EventAutomixTransitionAbort,
	events.EventAutomixFallback,
}

// Bridge subscribes to the AutoMix event types on an events.Bus and
// publishes each one as JSON on "automix.events.<station>.<event_type>".
type Bridge struct {
	nc      *nats.Conn
	bus     *events.Bus
	subject string
	logger  zerolog.Logger

	mu   sync.Mutex
	subs []events.Subscriber
}

// New dials natsURL and returns a Bridge, or an error if the connection
// cannot be established. Callers that want AutoMix to run without a NATS
// fan-out should simply not construct a Bridge at all.
func New(natsURL, stationID string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	nc, err := nats.Connect(natsURL, nats.Name("automix-engine"))
	if err != nil {
		return nil, err
	}
	return &Bridge{
		nc:      nc,
		bus:     bus,
		subject: "automix.events." + stationID,
		logger:  logger.With().Str("component", "automix.natsbridge").Logger(),
	}, nil
}

// Run subscribes to every AutoMix event type and forwards payloads to NATS
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.mu.Lock()
	for _, et := range automixEventTypes {
		sub := b.bus.Subscribe(et)
		b.subs = append(b.subs, sub)
		go b.forward(ctx, et, sub)
	}
	b.mu.Unlock()

	<-ctx.Done()
	b.mu.Lock()
	for i, et := range automixEventTypes {
		b.bus.Unsubscribe(et, b.subs[i])
	}
	b.mu.Unlock()
}

func (b *Bridge) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(payload)
			if err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event for nats")
				continue
			}
			if err := b.nc.Publish(b.subject+"."+string(eventType), data); err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("nats publish failed")
			}
		}
	}
}

// Close drains and closes the underlying NATS connection.
func (b *Bridge) Close() {
	b.nc.Drain()
}
