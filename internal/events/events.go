// Package events publishes run lifecycle events for rendering back ends and
// other consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ashita-ai/recast/internal/model"
)

// Stream and subjects used on the bus.
const (
	StreamName       = "RECAST_RUNS"
	SubjectPrefix    = "recast.runs."
	SubjectRendering = SubjectPrefix + "rendering"
	SubjectFailed    = SubjectPrefix + "failed"
)

// Subject returns the subject for a run status.
func Subject(status model.RunStatus) string {
	return SubjectPrefix + string(status)
}

// Noop discards events. Used when no bus is configured.
type Noop struct{}

// Notify implements pipeline.Notifier.
func (Noop) Notify(context.Context, model.RunEvent) error { return nil }

// Publisher sends run events to NATS JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher connects to NATS and makes sure the run stream exists.
func NewPublisher(ctx context.Context, url string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("recast"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: jetstream: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}); err != nil {
		logger.Warn("events: ensure stream failed, publishing anyway", "stream", StreamName, "error", err)
	}
	return &Publisher{nc: nc, js: js, logger: logger}, nil
}

// Notify implements pipeline.Notifier. The run id is used as the message id
// so JetStream drops duplicates of the same status for one run.
func (p *Publisher) Notify(ctx context.Context, ev model.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	subject := Subject(ev.Status)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.RunID.String()+":"+string(ev.Status))); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Healthy returns nil while the connection is up.
func (p *Publisher) Healthy(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("events: nats status %s", p.nc.Status())
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("events: drain nats connection", "error", err)
	}
}
