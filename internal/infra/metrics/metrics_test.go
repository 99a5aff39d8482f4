package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathledger/internal/domain"
	"pathledger/internal/infra/anchor"
)

var _ anchor.Observer = (*Collectors)(nil)

func TestCollectorsCount(t *testing.T) {
	c := New()
	c.ObserveIngest(domain.MessageTypeTelemetry, "accepted")
	c.ObserveIngest(domain.MessageTypeTelemetry, "accepted")
	c.ObserveIngest("", "rejected")
	c.ObserveEvent(domain.EventKindTracker, domain.HashStatusMismatch)
	c.ObserveVerification(true)
	c.ObservePublish("memory", "anchored", "", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ingested.WithLabelValues("telemetry", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ingested.WithLabelValues("unknown", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("tracker", "mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("memory", "anchored", "")))
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.ObserveVerification(false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `pathledger_verifications_total{verified="false"} 1`))
}
