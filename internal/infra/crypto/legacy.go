package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"pathledger/internal/domain"
)

// LegacyBufferSize is the firmware's JSON buffer, including the trailing NUL.
const LegacyBufferSize = 352

// LegacySnippetDigest reproduces the digest older tracker firmware computes:
// the "payload" snippet printed with snprintf into a fixed buffer, every value
// quoted, the buffer NUL padded to LegacyBufferSize before hashing.
func LegacySnippetDigest(fields map[string]any) (string, error) {
	snippet, err := LegacySnippet(fields)
	if err != nil {
		return "", err
	}
	if len(snippet)+1 > LegacyBufferSize {
		return "", fmt.Errorf("%w: legacy snippet is %d bytes, buffer holds %d", domain.ErrEncoding, len(snippet), LegacyBufferSize-1)
	}
	buf := make([]byte, LegacyBufferSize)
	copy(buf, snippet)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// LegacySnippet renders the snippet text without padding.
func LegacySnippet(fields map[string]any) ([]byte, error) {
	location, err := objectField(fields, "location")
	if err != nil {
		return nil, err
	}
	environment, err := objectField(fields, "environment")
	if err != nil {
		return nil, err
	}
	acceleration, err := objectField(fields, "acceleration")
	if err != nil {
		return nil, err
	}

	w := &snippetWriter{}
	w.raw(`"payload":{`)
	w.pair(fields, "timestamp", ",")
	w.pair(fields, "uptime", ",")
	w.raw(`"location":{`)
	w.pair(location, "latitude", ",")
	w.pair(location, "ns", ",")
	w.pair(location, "longitude", ",")
	w.pair(location, "ew", ",")
	w.pair(location, "altitude_m", "")
	w.raw(`},"environment":{`)
	w.pair(environment, "temperature_c", ",")
	w.pair(environment, "humidity_percent", ",")
	w.pair(environment, "pressure_hpa", ",")
	w.pair(environment, "gas_ppm", "")
	w.raw(`},"acceleration":{`)
	w.pair(acceleration, "x_mps2", ",")
	w.pair(acceleration, "y_mps2", ",")
	w.pair(acceleration, "z_mps2", "")
	w.raw(`}}`)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type snippetWriter struct {
	buf bytes.Buffer
	err error
}

func (w *snippetWriter) raw(s string) {
	w.buf.WriteString(s)
}

func (w *snippetWriter) pair(m map[string]any, key, sep string) {
	if w.err != nil {
		return
	}
	v, ok := m[key]
	if !ok {
		w.err = fmt.Errorf("%w: legacy snippet needs %q", domain.ErrEncoding, key)
		return
	}
	var text string
	switch val := v.(type) {
	case string:
		text = val
	case json.Number:
		text = val.String()
	default:
		w.err = fmt.Errorf("%w: legacy snippet value %q is %T", domain.ErrEncoding, key, v)
		return
	}
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			w.err = fmt.Errorf("%w: legacy snippet value %q is not ASCII", domain.ErrEncoding, key)
			return
		}
	}
	w.buf.WriteString(`"` + key + `":"` + text + `"` + sep)
}

func objectField(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: legacy snippet needs object %q", domain.ErrEncoding, key)
	}
	return v, nil
}
