package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"tidepool/observability"
)

// Lifecycle event subjects.
const (
	SubjectIntentFilled    = "tidepool.intent.filled"
	SubjectIntentPartial   = "tidepool.intent.partially_filled"
	SubjectIntentCancelled = "tidepool.intent.cancelled"
	SubjectIntentExpired   = "tidepool.intent.expired"
	SubjectIntentReclaimed = "tidepool.intent.reclaimed"
	SubjectOrderExecuted   = "tidepool.order.executed"
	SubjectOrderFilled     = "tidepool.order.filled"
	SubjectOrderCancelled  = "tidepool.order.cancelled"
	SubjectPoolUpdated     = "tidepool.pool.updated"
)

// Event is the envelope published on every lifecycle subject.
type Event struct {
	Subject  string            `json:"-"`
	EntityID string            `json:"entityId"`
	TxHash   string            `json:"txHash,omitempty"`
	At       time.Time         `json:"at"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Publisher fans lifecycle events out over NATS. A nil Publisher is valid and
// drops every event, so callers never branch on configuration.
type Publisher struct {
	nc      *nats.Conn
	log     *slog.Logger
	metrics *observability.EventMetrics
}

// Connect dials the NATS server and returns a Publisher.
func Connect(url string, log *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url required")
	}
	nc, err := nats.Connect(url,
		nats.Name("tidepool-solverd"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{nc: nc, log: log, metrics: observability.Events()}, nil
}

// Publish emits one event. Failures are logged and swallowed: event delivery
// is best-effort and never blocks a settlement.
func (p *Publisher) Publish(evt Event) {
	if p == nil || p.nc == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.log.Error("marshal event", "subject", evt.Subject, "err", err)
		p.metrics.RecordPublishFailure(evt.Subject)
		return
	}
	if err := p.nc.Publish(evt.Subject, payload); err != nil {
		p.log.Error("publish event", "subject", evt.Subject, "err", err)
		p.metrics.RecordPublishFailure(evt.Subject)
		return
	}
	p.metrics.RecordPublished(evt.Subject)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if p.nc.Status() == nats.CLOSED {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
