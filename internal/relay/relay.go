// Package relay publishes enriched events onto NATS subjects so
// downstream consumers (map vote tallying, seeding queues, moderation
// bots) can react without holding a connection to this process.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/reconcile"
	"github.com/louisbranch/squadops/internal/squad"
)

// SubjectPrefix is the root of the published subject hierarchy; the
// event kind is appended lowercased, e.g. "squadops.events.chat_message".
const SubjectPrefix = "squadops.events"

// Publisher relays enriched events to a NATS server.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials the NATS server. The connection retries in the
// background, so a relay target that is down at startup does not block
// the pipeline.
func Connect(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	if prefix == "" {
		prefix = SubjectPrefix
	}
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		log:    logger.With().Str("module", "relay").Logger(),
	}, nil
}

// message is the relayed payload: the event envelope plus the resolved
// annotations, mirroring the websocket frame shape.
type message struct {
	Event    json.RawMessage `json:"event"`
	Player   *squad.Player   `json:"player,omitempty"`
	Squad    *squad.Squad    `json:"squad,omitempty"`
	Victim   *squad.Player   `json:"victim,omitempty"`
	Attacker *squad.Player   `json:"attacker,omitempty"`
	Noop     string          `json:"noop,omitempty"`
}

// Publish relays one enriched event. Publishing is fire-and-forget:
// failures are logged and the pipeline moves on.
func (p *Publisher) Publish(event reconcile.Enriched) {
	envelope, err := squad.MarshalEvent(event.Event)
	if err != nil {
		p.log.Error().Err(err).Str("kind", event.Kind()).Msg("event encode failed, not relayed")
		return
	}
	data, err := json.Marshal(message{
		Event:    envelope,
		Player:   event.Player,
		Squad:    event.Squad,
		Victim:   event.Victim,
		Attacker: event.Attacker,
		Noop:     event.NoopReason,
	})
	if err != nil {
		p.log.Error().Err(err).Str("kind", event.Kind()).Msg("message encode failed, not relayed")
		return
	}

	subject := Subject(p.prefix, event.Kind())
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

// Close flushes and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Flush()
	p.nc.Close()
}

// Subject builds the subject for an event kind.
func Subject(prefix, kind string) string {
	out := make([]byte, len(kind))
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return prefix + "." + string(out)
}
