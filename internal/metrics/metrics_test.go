package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.EventPut("accepted")
	m.PublishOutcome("wss://a", "ok")
	m.RelayConnect("wss://a", nil)
	m.RelayUp("wss://a", true)
	m.ObserveQuery(time.Second)
	m.StoreSize(3)
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventPut("accepted")
	m.EventPut("accepted")
	m.EventPut("duplicate")
	m.RelayConnect("wss://a", errors.New("refused"))
	m.RelayUp("wss://a", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connects.WithLabelValues("wss://a", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayUp.WithLabelValues("wss://a")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "greet_events_total"))
}
