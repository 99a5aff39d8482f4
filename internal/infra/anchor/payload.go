package anchor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"pathledger/internal/domain"
	cryptoinfra "pathledger/internal/infra/crypto"
)

// MaxTagBytes is the largest tag a tagged-data block accepts.
const MaxTagBytes = 64

// Payload is what gets written to the ledger for one event.
type Payload struct {
	MessageID string
	Digest    string
	TagHex    string
	DataHex   string
}

func BuildPayload(messageID, digest string) (Payload, error) {
	if messageID == "" {
		return Payload{}, errors.New("message_id is required")
	}
	if len(messageID) > MaxTagBytes {
		return Payload{}, fmt.Errorf("%w: message id exceeds %d bytes", domain.ErrEncoding, MaxTagBytes)
	}
	digest = cryptoinfra.NormalizeDigest(digest)
	if !cryptoinfra.IsDigest(digest) {
		return Payload{}, fmt.Errorf("%w: digest must be 64 hex characters", domain.ErrEncoding)
	}
	return Payload{
		MessageID: messageID,
		Digest:    digest,
		TagHex:    EncodeTag(messageID),
		DataHex:   "0x" + digest,
	}, nil
}

// EncodeTag hex encodes the UTF-8 bytes of tag with a 0x prefix.
func EncodeTag(tag string) string {
	return "0x" + hex.EncodeToString([]byte(tag))
}

func DecodeTag(tagHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(tagHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: tag is not hex: %v", domain.ErrEncoding, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: tag is not UTF-8", domain.ErrEncoding)
	}
	return string(raw), nil
}

// DecodeData returns the digest carried in a block's data field.
func DecodeData(dataHex string) (string, error) {
	digest := cryptoinfra.NormalizeDigest(dataHex)
	if !cryptoinfra.IsDigest(digest) {
		return "", fmt.Errorf("%w: block data is not a digest", domain.ErrEncoding)
	}
	return digest, nil
}

// IsBlockRef reports whether s is a block id: 0x followed by 64 hex characters.
func IsBlockRef(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	return cryptoinfra.IsDigest(strings.ToLower(s[2:]))
}
