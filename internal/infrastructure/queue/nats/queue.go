// Package nats carries document-queued wake-ups between the API and the
// workers. Events are hints only; the database stays the source of truth.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// QueueGroup load-balances wake-ups across worker replicas.
	QueueGroup         string
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
	// LagObserver receives the time between publish and delivery.
	LagObserver func(time.Duration)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.QueueGroup == "" {
		o.QueueGroup = "docpipe-workers"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ResilienceExecutor == nil {
		o.ResilienceExecutor = resilience.NewExecutorWithLogger(resilience.DefaultConfig(), o.Logger)
	}
	return o
}

type Queue struct {
	conn    *nats.Conn
	subject string
	opts    Options
	now     func() time.Time
}

func New(url, subject string, opts Options) (*Queue, error) {
	opts = opts.withDefaults()
	logger := opts.Logger

	conn, err := nats.Connect(url,
		nats.Name("document-pipeline"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats_connection_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{conn: conn, subject: subject, opts: opts, now: time.Now}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentQueued(ctx context.Context, documentID string) error {
	payload, err := encodeEvent(documentID, q.now())
	if err != nil {
		return fmt.Errorf("encode document queued event: %w", err)
	}
	err = q.opts.ResilienceExecutor.Execute(ctx, "nats_publish", func(context.Context) error {
		return q.conn.Publish(q.subject, payload)
	}, classifyNATSError)
	return markTemporary(err)
}

// SubscribeDocumentQueued blocks until ctx ends, then drains the
// subscription so in-flight handlers finish.
func (q *Queue) SubscribeDocumentQueued(ctx context.Context, handler func(context.Context, string) error) error {
	logger := q.opts.Logger
	sub, err := q.conn.QueueSubscribe(q.subject, q.opts.QueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		evt, err := decodeEvent(msg.Data)
		if err != nil {
			logger.Warn("nats_event_discarded", "subject", msg.Subject, "error", err)
			return
		}
		if q.opts.LagObserver != nil && !evt.QueuedAt.IsZero() {
			q.opts.LagObserver(q.now().Sub(evt.QueuedAt))
		}
		if err := handler(ctx, evt.DocumentID); err != nil {
			logger.Error("document_queued_handler_failed", "document_id", evt.DocumentID, "error", err)
		}
	})
	if err != nil {
		return markTemporary(fmt.Errorf("nats subscribe: %w", err))
	}
	if err := q.conn.Flush(); err != nil {
		return markTemporary(fmt.Errorf("nats flush: %w", err))
	}
	logger.Info("nats_subscribed", "subject", q.subject, "queue_group", q.opts.QueueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}
