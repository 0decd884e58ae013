// Package queue is the inbound task feed the controller drains between
// poll ticks. Trace context is injected on publish and extracted on
// consume, so a task's spans connect back to whoever enqueued it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// TaskEnvelope is the wire shape published onto the task subject: an
// externally-created Task's identity plus its kind, so the controller
// doesn't need to round-trip the full payload through the queue — the
// metadata store remains the source of truth for task fields.
type TaskEnvelope struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
}

// Publisher publishes task envelopes onto the inbound feed.
type Publisher interface {
	Publish(ctx context.Context, env TaskEnvelope) error
}

// Consumer drains task envelopes from the inbound feed, invoking
// handler with a context carrying the publisher's trace context.
type Consumer interface {
	Subscribe(handler func(context.Context, TaskEnvelope)) (Subscription, error)
}

// Subscription can be torn down by the caller.
type Subscription interface {
	Unsubscribe() error
}

// NATSQueue is the production Publisher/Consumer, backed by
// github.com/nats-io/nats.go.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
}

// NewNATSQueue connects to url and binds to subject.
func NewNATSQueue(url, subject string) (*NATSQueue, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSQueue{conn: conn, subject: subject}, nil
}

// Close closes the underlying connection without draining it.
func (q *NATSQueue) Close() {
	q.conn.Close()
}

func (q *NATSQueue) Publish(ctx context.Context, env TaskEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: q.subject, Data: data, Header: hdr}
	return q.conn.PublishMsg(msg)
}

func (q *NATSQueue) Subscribe(handler func(context.Context, TaskEnvelope)) (Subscription, error) {
	sub, err := q.conn.Subscribe(q.subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("mediaworker-queue")
		ctx, span := tr.Start(ctx, "queue.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var env TaskEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			span.RecordError(err)
			return
		}
		handler(ctx, env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	return sub, nil
}

// MemoryQueue is an in-memory Publisher/Consumer test double: publish
// hands the envelope directly to every subscribed handler, synchronously.
type MemoryQueue struct {
	handlers []func(context.Context, TaskEnvelope)
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Publish(ctx context.Context, env TaskEnvelope) error {
	for _, h := range q.handlers {
		h(ctx, env)
	}
	return nil
}

func (q *MemoryQueue) Subscribe(handler func(context.Context, TaskEnvelope)) (Subscription, error) {
	q.handlers = append(q.handlers, handler)
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
