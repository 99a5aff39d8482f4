package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"pathledger/internal/domain"
)

// Key names of the two-key wrapper that is hashed for every event.
const (
	MessageIDKey = "message_id"
	PayloadKey   = "payload"
)

// Canonicalize serializes {"message_id": id, "payload": payload} with keys
// sorted by code point at every level, no whitespace, and every number
// rendered as a string holding its decimal literal.
func Canonicalize(messageID string, payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, map[string]any{
		MessageIDKey: messageID,
		PayloadKey:   payload,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Digest is the lower-case hex SHA-256 of Canonicalize(messageID, payload).
func Digest(messageID string, payload map[string]any) (string, error) {
	canonical, err := Canonicalize(messageID, payload)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// CanonicalizeJSON re-encodes a JSON document in canonical form.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", domain.ErrEncoding, err)
	}
	if err := ensureEOF(dec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}

	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NormalizeDigest lower-cases a hex digest and strips an optional 0x prefix.
func NormalizeDigest(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
}

// IsDigest reports whether s is 64 lower-case hex characters.
func IsDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func ensureEOF(dec *json.Decoder) error {
	var extra any
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return errors.New("invalid JSON: trailing data")
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, v)
	case json.Number:
		if _, err := strconv.ParseFloat(v.String(), 64); err != nil {
			return fmt.Errorf("invalid JSON number %q", v.String())
		}
		return writeString(buf, v.String())
	case float64:
		return writeFloat(buf, v)
	case float32:
		return writeFloat(buf, float64(v))
	case int:
		return writeString(buf, strconv.FormatInt(int64(v), 10))
	case int8:
		return writeString(buf, strconv.FormatInt(int64(v), 10))
	case int16:
		return writeString(buf, strconv.FormatInt(int64(v), 10))
	case int32:
		return writeString(buf, strconv.FormatInt(int64(v), 10))
	case int64:
		return writeString(buf, strconv.FormatInt(v, 10))
	case uint:
		return writeString(buf, strconv.FormatUint(uint64(v), 10))
	case uint8:
		return writeString(buf, strconv.FormatUint(uint64(v), 10))
	case uint16:
		return writeString(buf, strconv.FormatUint(uint64(v), 10))
	case uint32:
		return writeString(buf, strconv.FormatUint(uint64(v), 10))
	case uint64:
		return writeString(buf, strconv.FormatUint(v, 10))
	case map[string]any:
		return writeObject(buf, v)
	case []any:
		return writeArray(buf, v)
	default:
		// Structs, typed maps and slices go through encoding/json first.
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("unsupported JSON type %T: %w", value, err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return err
		}
		return writeCanonical(buf, generic)
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("invalid JSON number")
	}
	return writeString(buf, strconv.FormatFloat(f, 'f', -1, 64))
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Byte order of UTF-8 strings is code point order.
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return errors.New("string is not valid UTF-8")
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

var hexLower = []byte("0123456789abcdef")
