package natsingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pathledger/internal/usecase"
)

const (
	defaultTimeout = 30 * time.Second
	jsAckPrefix    = "$JS.ACK."
)

type Ingester interface {
	Execute(ctx context.Context, req usecase.IngestGatewayRequest) (*usecase.IngestGatewayResponse, error)
}

// Consumer feeds gateway messages delivered on a NATS subject into the same
// ingestion pipeline the HTTP endpoint uses. Messages on the bus are trusted;
// API-key checks happen only at the HTTP edge.
type Consumer struct {
	Ingest  Ingester
	Logger  *slog.Logger
	Timeout time.Duration
}

type reply struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Subscribe joins the queue group so that each message is ingested by one
// replica only. Core NATS delivers at most once: a message that fails for a
// non-input reason is dropped after the error reply, so publishers must
// request a reply and retry on {"error"}.
func (c *Consumer) Subscribe(nc *nats.Conn, subject, queue string) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, c.Handle)
}

// StreamOptions selects a durable JetStream consumer instead of a core
// subscription.
type StreamOptions struct {
	Stream     string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
}

// SubscribeStream consumes subject from a JetStream stream with manual acks.
// Failed ingestions are negatively acknowledged and redelivered until
// MaxDeliver is reached.
func (c *Consumer) SubscribeStream(nc *nats.Conn, subject string, opts StreamOptions) (*nats.Subscription, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(opts.Stream),
		nats.Durable(opts.Durable),
		nats.ManualAck(),
		nats.DeliverAll(),
	}
	if opts.AckWait > 0 {
		subOpts = append(subOpts, nats.AckWait(opts.AckWait))
	}
	if opts.MaxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(opts.MaxDeliver))
	}
	return js.QueueSubscribe(subject, opts.Durable, c.Handle, subOpts...)
}

func (c *Consumer) Handle(msg *nats.Msg) {
	log := c.logger().With("subject", msg.Subject)
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := c.Ingest.Execute(ctx, usecase.IngestGatewayRequest{Raw: msg.Data})
	out := reply{Status: "ok"}
	switch {
	case err != nil && usecase.IsInputError(err):
		log.Warn("gateway message rejected", "err", err)
		out = reply{Error: err.Error()}
	case err != nil:
		log.Error("gateway message failed", "err", err)
		out = reply{Error: err.Error()}
	default:
		log.Debug("gateway message ingested", "message_id", resp.MessageID, "events", len(resp.Events))
	}
	if isStreamDelivery(msg) {
		c.settle(msg, err, log)
		return
	}
	c.respond(msg, out, log)
}

func isStreamDelivery(msg *nats.Msg) bool {
	return strings.HasPrefix(msg.Reply, jsAckPrefix)
}

// shouldRedeliver reports whether another delivery could succeed. Rejected
// input fails the same way every time.
func shouldRedeliver(err error) bool {
	return err != nil && !usecase.IsInputError(err)
}

func (c *Consumer) settle(msg *nats.Msg, err error, log *slog.Logger) {
	if shouldRedeliver(err) {
		if nakErr := msg.Nak(); nakErr != nil {
			log.Warn("nak failed", "err", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		log.Warn("ack failed", "err", ackErr)
	}
}

func (c *Consumer) respond(msg *nats.Msg, out reply, log *slog.Logger) {
	if msg.Reply == "" {
		return
	}
	body, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := msg.Respond(body); err != nil {
		log.Warn("reply failed", "err", err)
	}
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
