package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pathledger/internal/domain"
)

// TagIndex resolves a hex tag to the block that carries it.
type TagIndex interface {
	GetByTagHex(ctx context.Context, tagHex string) (*domain.AnchorReceipt, error)
}

// EntryCache holds fetched ledger entries. Blocks are immutable, so entries
// can be cached for as long as memory allows.
type EntryCache interface {
	Get(ctx context.Context, key string) (*domain.LedgerEntry, bool, error)
	Put(ctx context.Context, key string, value domain.LedgerEntry, ttl time.Duration) error
}

// Client adapts a hex-level Ledger to the tag/digest AnchorClient contract.
// It performs no retries.
type Client struct {
	ledger   domain.Ledger
	index    TagIndex
	cache    EntryCache
	cacheTTL time.Duration
}

func NewClient(ledger domain.Ledger, index TagIndex) (*Client, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	return &Client{ledger: ledger, index: index}, nil
}

// WithCache enables caching of fetched entries by block id.
func (c *Client) WithCache(cache EntryCache, ttl time.Duration) *Client {
	c.cache = cache
	c.cacheTTL = ttl
	return c
}

func (c *Client) LedgerName() string {
	return c.ledger.Name()
}

func (c *Client) Publish(ctx context.Context, tag, digest string) (string, error) {
	payload, err := BuildPayload(tag, digest)
	if err != nil {
		return "", err
	}
	ref, err := c.ledger.PublishTagged(ctx, payload.TagHex, payload.DataHex)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", &LedgerError{Code: domain.AnchorErrorLedgerOther, Err: domain.ErrLedgerUnavailable, Detail: "ledger returned no block id"}
	}
	return ref, nil
}

// Fetch reads an entry by block id, or by tag through the tag index.
func (c *Client) Fetch(ctx context.Context, refOrTag string) (domain.LedgerEntry, error) {
	ref, err := c.resolve(ctx, refOrTag)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if c.cache != nil && IsBlockRef(ref) {
		if cached, ok, err := c.cache.Get(ctx, ref); err == nil && ok {
			return *cached, nil
		}
	}

	tagHex, dataHex, err := c.ledger.FetchTagged(ctx, ref)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	tag, err := DecodeTag(tagHex)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	digest, err := DecodeData(dataHex)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	entry := domain.LedgerEntry{Ref: ref, Tag: tag, Digest: digest}
	if c.cache != nil && IsBlockRef(ref) {
		_ = c.cache.Put(ctx, ref, entry, c.cacheTTL)
	}
	return entry, nil
}

func (c *Client) resolve(ctx context.Context, refOrTag string) (string, error) {
	if refOrTag == "" {
		return "", fmt.Errorf("%w: empty ledger reference", domain.ErrNotFound)
	}
	if IsBlockRef(refOrTag) {
		return refOrTag, nil
	}
	tagHex := EncodeTag(refOrTag)
	if c.index == nil {
		return tagHex, nil
	}
	receipt, err := c.index.GetByTagHex(ctx, tagHex)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no ledger entry tagged %q", domain.ErrNotFound, refOrTag)
		}
		return "", fmt.Errorf("resolve tag: %w", err)
	}
	return receipt.LedgerRef, nil
}

var _ domain.AnchorClient = (*Client)(nil)
