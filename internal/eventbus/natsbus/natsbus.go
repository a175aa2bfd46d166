// Package natsbus publishes the orchestrator's event stream onto a
// NATS subject, propagating trace context over message headers so a
// downstream subscriber can continue the originating span.
package natsbus

import (
	"context"
	"encoding/json"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/swarmctl/internal/events"
)

var propagator = propagation.TraceContext{}

// Sink publishes each event on ch to subject as JSON, carrying the
// current trace context in NATS message headers, until ch closes or
// ctx is cancelled.
func Sink(ctx context.Context, nc *nats.Conn, subject string, ch <-chan events.Event) error {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := publish(ctx, nc, subject, e); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func publish(ctx context.Context, nc *nats.Conn, subject string, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))

	_, span := otel.Tracer("swarmctl-nats").Start(ctx, "natsbus.publish")
	defer span.End()

	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	return nc.PublishMsg(msg)
}
