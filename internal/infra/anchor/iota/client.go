// Package iota talks to an IOTA node's core REST API and stores digests as
// tagged-data blocks. No signing key is involved: blocks carry no value.
package iota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pathledger/internal/domain"
	"pathledger/internal/infra/anchor"
)

const (
	protocolVersion       = 2
	payloadTypeTaggedData = 5
	maxResponseBytes      = 64 * 1024
)

type Client struct {
	baseURL string
	httpDo  func(*http.Request) (*http.Response, error)
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("iota node url is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpDo:  doer,
	}, nil
}

func (c *Client) Name() string {
	return "iota"
}

type taggedData struct {
	Type int    `json:"type"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

type blockRequest struct {
	ProtocolVersion int        `json:"protocolVersion"`
	Payload         taggedData `json:"payload"`
}

type blockCreated struct {
	BlockID string `json:"blockId"`
}

type block struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Payload         json.RawMessage `json:"payload"`
}

// PublishTagged submits a tagged-data block and returns its block id. The
// node selects parents and performs proof of work.
func (c *Client) PublishTagged(ctx context.Context, tagHex, dataHex string) (string, error) {
	body, err := json.Marshal(blockRequest{
		ProtocolVersion: protocolVersion,
		Payload:         taggedData{Type: payloadTypeTaggedData, Tag: tagHex, Data: dataHex},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/core/v2/blocks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	var created blockCreated
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", &anchor.LedgerError{Code: domain.AnchorErrorLedgerOther, Err: domain.ErrLedgerUnavailable, Detail: "decode block id: " + err.Error()}
	}
	if !anchor.IsBlockRef(created.BlockID) {
		return "", &anchor.LedgerError{Code: domain.AnchorErrorLedgerOther, Err: domain.ErrLedgerUnavailable, Detail: fmt.Sprintf("unexpected block id %q", created.BlockID)}
	}
	return created.BlockID, nil
}

// FetchTagged reads a block by id. Nodes have no tag index of their own, so
// tags must be resolved to block ids before calling.
func (c *Client) FetchTagged(ctx context.Context, ref string) (string, string, error) {
	if !anchor.IsBlockRef(ref) {
		return "", "", fmt.Errorf("%w: %q is not a block id", domain.ErrNotFound, ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/core/v2/blocks/"+ref, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(ctx, req)
	if err != nil {
		return "", "", err
	}
	var b block
	if err := json.Unmarshal(respBody, &b); err != nil {
		return "", "", fmt.Errorf("%w: decode block: %v", domain.ErrEncoding, err)
	}
	var payload taggedData
	if len(b.Payload) == 0 || json.Unmarshal(b.Payload, &payload) != nil || payload.Type != payloadTypeTaggedData {
		return "", "", fmt.Errorf("%w: block %s carries no tagged data", domain.ErrNotFound, ref)
	}
	return payload.Tag, payload.Data, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpDo(req)
	if err != nil {
		return nil, anchor.Unavailable(ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, anchor.Unavailable(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, anchor.FromStatus(resp.StatusCode, nodeError(body))
	}
	return body, nil
}

func nodeError(body []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}

var _ domain.Ledger = (*Client)(nil)
