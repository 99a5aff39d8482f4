package natsingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathledger/internal/domain"
	"pathledger/internal/usecase"
)

type stubIngester struct {
	raws [][]byte
	err  error
}

func (s *stubIngester) Execute(ctx context.Context, req usecase.IngestGatewayRequest) (*usecase.IngestGatewayResponse, error) {
	s.raws = append(s.raws, req.Raw)
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, fmt.Errorf("expected a deadline")
	}
	return &usecase.IngestGatewayResponse{MessageID: "m1"}, nil
}

func quietConsumer(ingest Ingester) *Consumer {
	return &Consumer{Ingest: ingest, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestHandlePassesRawBytes(t *testing.T) {
	ingest := &stubIngester{}
	c := quietConsumer(ingest)

	c.Handle(&nats.Msg{Subject: "pathledger.gateway", Data: []byte(`{"header":{}}`)})

	require.Len(t, ingest.raws, 1)
	assert.Equal(t, `{"header":{}}`, string(ingest.raws[0]))
}

func TestHandleSurvivesRejections(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: bad", domain.ErrInvalidMessage),
		fmt.Errorf("store: %w", domain.ErrLedgerUnavailable),
	} {
		ingest := &stubIngester{err: err}
		c := quietConsumer(ingest)
		c.Handle(&nats.Msg{Subject: "pathledger.gateway", Data: []byte(`{}`)})
		assert.Len(t, ingest.raws, 1)
	}
}

func TestShouldRedeliver(t *testing.T) {
	assert.False(t, shouldRedeliver(nil))
	assert.False(t, shouldRedeliver(fmt.Errorf("%w: tracker", domain.ErrUnknownSource)))
	assert.False(t, shouldRedeliver(fmt.Errorf("%w: bad", domain.ErrInvalidMessage)))
	assert.True(t, shouldRedeliver(fmt.Errorf("record event: %w", errors.New("connection reset"))))
	assert.True(t, shouldRedeliver(fmt.Errorf("store: %w", domain.ErrLedgerUnavailable)))
}

func TestHandleStreamDelivery(t *testing.T) {
	ingest := &stubIngester{err: errors.New("database is locked")}
	c := quietConsumer(ingest)

	msg := &nats.Msg{
		Subject: "pathledger.gateway",
		Reply:   "$JS.ACK.GATEWAY.ingest.1.7.7.1735689600000000000.0",
		Data:    []byte(`{}`),
	}
	require.True(t, isStreamDelivery(msg))
	assert.NotPanics(t, func() { c.Handle(msg) })
	require.Len(t, ingest.raws, 1)

	assert.False(t, isStreamDelivery(&nats.Msg{Reply: "_INBOX.abc"}))
}
