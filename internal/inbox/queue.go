// Package inbox queues messages between terminals and types each one into
// its receiver once the receiver's agent is idle.
//
// Delivery is ordered per receiver and at most once: a per-receiver keyed
// lock serializes deliverers (across processes too), and the store's
// conditional claim decides which deliverer sends a given message.
package inbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/lock"
	"github.com/timvw/pane-conductor/internal/model"
	pcotel "github.com/timvw/pane-conductor/internal/otel"
	"github.com/timvw/pane-conductor/internal/provider"
)

var tracer = otel.Tracer("pane-conductor/inbox")

// Terminals is the slice of the orchestrator the queue needs.
// *terminal.Orchestrator implements it.
type Terminals interface {
	Lookup(ctx context.Context, id string) (model.Terminal, error)
	Status(ctx context.Context, id string) (model.Status, error)
	SendInput(ctx context.Context, id, text string) error
	ProviderFor(t model.Terminal) (provider.Provider, error)
}

// Messages persists the inbox. *store.Store implements it.
type Messages interface {
	AppendMessage(ctx context.Context, sender, receiver, body string) (model.InboxMessage, error)
	OldestPending(ctx context.Context, receiver string) (model.InboxMessage, bool, error)
	ClaimMessage(ctx context.Context, id int64) (bool, error)
	ReleaseMessage(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, receiver string) ([]model.InboxMessage, error)
	HasPending(ctx context.Context, receiver string) (bool, error)
	PendingReceivers(ctx context.Context) ([]string, error)
}

// Queue submits and delivers inbox messages.
type Queue struct {
	terminals Terminals
	messages  Messages
	locks     *lock.Keyed

	deliverOnCompleted bool

	logger  *zap.Logger
	metrics *pcotel.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithMetrics sets the metric counters.
func WithMetrics(m *pcotel.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithLockDir enables cross-process delivery locks under dir.
func WithLockDir(dir string) Option { return func(q *Queue) { q.locks = lock.NewKeyed(dir) } }

// WithDeliverOnCompleted treats a COMPLETED receiver as ready, not only an
// IDLE one.
func WithDeliverOnCompleted(v bool) Option { return func(q *Queue) { q.deliverOnCompleted = v } }

// NewQueue creates a queue.
func NewQueue(terminals Terminals, messages Messages, opts ...Option) *Queue {
	q := &Queue{
		terminals: terminals,
		messages:  messages,
		locks:     lock.NewKeyed(""),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit queues body for receiver and tries to deliver right away. A
// failed delivery attempt is logged and leaves the message pending.
func (q *Queue) Submit(ctx context.Context, sender, receiver, body string) (model.InboxMessage, error) {
	ctx, span := tracer.Start(ctx, "inbox.submit", trace.WithAttributes(
		attribute.String("sender", sender),
		attribute.String("receiver", receiver),
	))
	defer span.End()

	if _, err := q.terminals.Lookup(ctx, receiver); err != nil {
		return model.InboxMessage{}, spanError(span, fmt.Errorf("receiver %s: %w", receiver, err))
	}

	msg, err := q.messages.AppendMessage(ctx, sender, receiver, body)
	if err != nil {
		return model.InboxMessage{}, spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	q.metrics.RecordInboxSubmitted(ctx)
	q.logger.Info("queued message",
		zap.Int64("message_id", msg.ID), zap.String("sender", sender), zap.String("receiver", receiver))

	delivered, err := q.CheckAndDeliver(ctx, receiver)
	if err != nil {
		q.logger.Warn("immediate delivery failed",
			zap.String("receiver", receiver), zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	if delivered {
		span.SetAttributes(attribute.Bool("delivered_immediately", true))
	}
	return msg, nil
}

// CheckAndDeliver types the receiver's oldest pending message into it if
// the receiver is ready. It delivers at most one message per call and
// reports whether it did.
func (q *Queue) CheckAndDeliver(ctx context.Context, receiver string) (bool, error) {
	ctx, span := tracer.Start(ctx, "inbox.check_and_deliver",
		trace.WithAttributes(attribute.String("receiver", receiver)))
	defer span.End()

	unlock, err := q.locks.Lock(ctx, "inbox-"+receiver)
	if err != nil {
		return false, spanError(span, err)
	}
	defer unlock()

	status, err := q.terminals.Status(ctx, receiver)
	if err != nil {
		return false, spanError(span, err)
	}
	span.SetAttributes(attribute.String("status", string(status)))
	if !q.ready(status) {
		return false, nil
	}

	msg, ok, err := q.messages.OldestPending(ctx, receiver)
	if err != nil {
		return false, spanError(span, err)
	}
	if !ok {
		return false, nil
	}

	claimed, err := q.messages.ClaimMessage(ctx, msg.ID)
	if err != nil {
		return false, spanError(span, err)
	}
	if !claimed {
		q.metrics.RecordClaimRace(ctx)
		q.logger.Debug("message claimed elsewhere", zap.Int64("message_id", msg.ID))
		return false, nil
	}

	if err := q.terminals.SendInput(ctx, receiver, msg.Body); err != nil {
		if rerr := q.messages.ReleaseMessage(context.WithoutCancel(ctx), msg.ID); rerr != nil {
			q.logger.Error("releasing claim after failed send",
				zap.Int64("message_id", msg.ID), zap.Error(rerr))
		}
		return false, spanError(span, fmt.Errorf("delivering message %d: %w", msg.ID, err))
	}

	q.metrics.RecordInboxDelivered(ctx)
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	q.logger.Info("delivered message",
		zap.Int64("message_id", msg.ID), zap.String("sender", msg.SenderID), zap.String("receiver", receiver))
	return true, nil
}

// List returns every message addressed to receiver, oldest first.
func (q *Queue) List(ctx context.Context, receiver string) ([]model.InboxMessage, error) {
	return q.messages.ListMessages(ctx, receiver)
}

// DeliverAll runs one delivery attempt for every receiver with pending
// messages and returns how many were delivered.
func (q *Queue) DeliverAll(ctx context.Context) (int, error) {
	receivers, err := q.messages.PendingReceivers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range receivers {
		ok, err := q.CheckAndDeliver(ctx, r)
		if err != nil {
			q.logger.Warn("delivery attempt failed", zap.String("receiver", r), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (q *Queue) ready(s model.Status) bool {
	return s == model.StatusIdle || (q.deliverOnCompleted && s == model.StatusCompleted)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
