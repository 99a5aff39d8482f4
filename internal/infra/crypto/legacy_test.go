package crypto

import (
	"errors"
	"strings"
	"testing"

	"pathledger/internal/domain"
)

const legacyReading = `{
	"timestamp":"2025-05-29T13:27:32","uptime":"61",
	"location":{"latitude":"27.5001869","ns":"S","longitude":"153.0141296","ew":"E","altitude_m":"31.0"},
	"environment":{"temperature_c":"25.55","humidity_percent":"58.50","pressure_hpa":"102.1","gas_ppm":"14.00"},
	"acceleration":{"x_mps2":"0.038","y_mps2":"-0.268","z_mps2":"-9.690"}
}`

func TestLegacySnippetDigest_FirmwareVector(t *testing.T) {
	fields := decodePayload(t, legacyReading)
	snippet, err := LegacySnippet(fields)
	if err != nil {
		t.Fatalf("snippet: %v", err)
	}
	if len(snippet) != 338 {
		t.Fatalf("unexpected snippet length %d", len(snippet))
	}
	if !strings.HasPrefix(string(snippet), `"payload":{"timestamp":"2025-05-29T13:27:32","uptime":"61","location":{"latitude"`) {
		t.Fatalf("unexpected snippet %s", snippet)
	}
	digest, err := LegacySnippetDigest(fields)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest != "e74104cb5c2094227bd69d7da8fa4a024d50dcb636960cad9723561530d4586e" {
		t.Fatalf("unexpected digest %s", digest)
	}
}

func TestLegacySnippetDigest_DiffersFromCanonical(t *testing.T) {
	fields := decodePayload(t, legacyReading)
	legacy, err := LegacySnippetDigest(fields)
	if err != nil {
		t.Fatalf("legacy digest: %v", err)
	}
	canonical, err := Digest("m1", fields)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if legacy == canonical {
		t.Fatal("schemes must not collide")
	}
}

func TestLegacySnippetDigest_MissingField(t *testing.T) {
	fields := decodePayload(t, legacyReading)
	delete(fields["environment"].(map[string]any), "gas_ppm")
	if _, err := LegacySnippetDigest(fields); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestLegacySnippetDigest_BufferOverflow(t *testing.T) {
	fields := decodePayload(t, legacyReading)
	fields["timestamp"] = strings.Repeat("9", 40)
	if _, err := LegacySnippetDigest(fields); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for oversized snippet, got %v", err)
	}
}

func TestLegacySnippet_NumericLiterals(t *testing.T) {
	fields := decodePayload(t, strings.Replace(legacyReading, `"uptime":"61"`, `"uptime":61`, 1))
	snippet, err := LegacySnippet(fields)
	if err != nil {
		t.Fatalf("snippet: %v", err)
	}
	if !strings.Contains(string(snippet), `"uptime":"61"`) {
		t.Fatalf("expected numeric uptime to print quoted, got %s", snippet)
	}
}
