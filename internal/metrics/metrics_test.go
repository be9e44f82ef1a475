package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MenuShown()
	m.MenuShown()
	m.PollCreated()
	m.AnswerReceived("registry")
	m.Delivered("written")
	m.SetRegistrySize(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.menus))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.answers.WithLabelValues("registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("written")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.registrySize))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MenuShown()
		m.PollCreated()
		m.AnswerReceived("fallback")
		m.Delivered("dropped")
		m.SetRegistrySize(1)
		m.SetOutboxPending(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.PollCreated()
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "branchpoll_polls_created_total 1")
}
