package eventing

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vanylaplus/go-launcher/logger"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned when publishing or subscribing on a closed client.
var ErrClosed = errors.New("eventing: client closed")

// localQueueSize is how many undelivered messages a subscriber may hold.
// Publish drops messages for a subscriber whose queue is full.
const localQueueSize = 64

type localSubscriber struct {
	id      string
	subject string
	queue   chan *payload
	done    chan struct{}
	once    sync.Once
	client  *localClient
}

func (s *localSubscriber) Close() error {
	s.once.Do(func() {
		s.client.remove(s)
		close(s.done)
	})
	return nil
}

type localClient struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger

	mu   sync.RWMutex
	subs map[string]map[string]*localSubscriber
}

var _ Client = (*localClient)(nil)

// NewLocalClient returns an in-process Client. Each subscriber receives
// messages in publish order on its own goroutine.
func NewLocalClient(ctx context.Context, logger logger.Logger) Client {
	ctx, cancel := context.WithCancel(ctx)
	return &localClient{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(map[string]interface{}{"component": "eventing"}),
		subs:   make(map[string]map[string]*localSubscriber),
	}
}

func (c *localClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	msg := newPayload(subject, data, opts...)
	propagator.Inject(ctx, msg.InternalHeaders)

	_, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	c.mu.RLock()
	targets := make([]*localSubscriber, 0, len(c.subs[subject]))
	for _, s := range c.subs[subject] {
		targets = append(targets, s)
	}
	c.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- msg:
		case <-s.done:
		default:
			c.logger.Warn("subscriber %s on %s is not keeping up, dropped message", s.id, subject)
		}
	}
	span.SetStatus(codes.Ok, "message published")
	return nil
}

func (c *localClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	s := &localSubscriber{
		id:      uuid.NewString(),
		subject: subject,
		queue:   make(chan *payload, localQueueSize),
		done:    make(chan struct{}),
		client:  c,
	}
	c.mu.Lock()
	if c.subs[subject] == nil {
		c.subs[subject] = make(map[string]*localSubscriber)
	}
	c.subs[subject][s.id] = s
	c.mu.Unlock()
	c.logger.Trace("subscriber %s added to %s", s.id, subject)

	go func() {
		defer s.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case <-s.done:
				return
			case msg := <-s.queue:
				c.deliver(ctx, msg, cb)
			}
		}
	}()
	return s, nil
}

func (c *localClient) deliver(ctx context.Context, msg *payload, cb MessageCallback) {
	spanCtx, span := tracer.Start(
		propagator.Extract(ctx, msg.InternalHeaders),
		"deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber for %s panicked: %v", msg.InternalSubject, r)
		}
	}()
	cb(spanCtx, msg)
}

func (c *localClient) remove(s *localSubscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subs, ok := c.subs[s.subject]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(c.subs, s.subject)
		}
	}
}

func (c *localClient) Close() error {
	c.cancel()
	return nil
}
