// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation, plus a request/reply service loop.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Reply is the envelope Serve answers with. Exactly one of Data and Error
// is meaningful.
type Reply[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a failure reported by the serving side.
type RemoteError struct {
	Subject string
	Msg     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: remote: %s", e.Subject, e.Msg)
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: %s: encode: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

func msgContext(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the
// handler. Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		handler(msgContext(msg), v)
	})
}

// Request sends a JSON-encoded request to a Serve endpoint and decodes the
// reply. Without a deadline on ctx, nats.DefaultTimeout applies.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: %s: %w", subject, err)
	}
	var reply Reply[Resp]
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return zero, fmt.Errorf("natsutil: %s: decode reply: %w", subject, err)
	}
	if reply.Error != "" {
		return zero, &RemoteError{Subject: subject, Msg: reply.Error}
	}
	return reply.Data, nil
}

// Serve answers requests on subject with handler's result wrapped in a
// Reply. With a non-empty queue, instances share the load. Decode and
// handler errors are sent back to the requester as Reply.Error.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, log *slog.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := msgContext(msg)
		var reply Reply[Resp]

		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply.Error = "malformed request: " + err.Error()
		} else if resp, err := handler(ctx, req); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Data = resp
		}

		if msg.Reply == "" {
			if reply.Error != "" {
				log.WarnContext(ctx, "request without reply subject failed", "subject", subject, "error", reply.Error)
			}
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			log.ErrorContext(ctx, "encode reply", "subject", subject, "error", err)
			return
		}
		if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.ErrorContext(ctx, "respond", "subject", subject, "error", err)
		}
	})
}
