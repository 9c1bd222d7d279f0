package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	return rr.Body.String()
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.RecordSessionCreated()
	m.RecordSessionCreated()
	m.RecordActiveSessions(2)
	m.RecordBroadcast()
	m.RecordSendFailure()
	m.RecordNicknameRejection()

	body := scrape(t, m)
	assert.Contains(t, body, "lair_sessions_created_total 2")
	assert.Contains(t, body, "lair_sessions_active 2")
	assert.Contains(t, body, "lair_broadcasts_total 1")
	assert.Contains(t, body, "lair_send_failures_total 1")
	assert.Contains(t, body, "lair_nickname_rejections_total 1")
}

// Two servers in one process must not trip over each other's collectors.
func TestMetricsInstancesAreIndependent(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordSessionCreated()

	assert.Contains(t, scrape(t, m1), "lair_sessions_created_total 1")
	assert.Contains(t, scrape(t, m2), "lair_sessions_created_total 0")
}

func TestRegistryRecordsMetrics(t *testing.T) {
	m := NewMetrics()
	r := NewRegistry()
	r.SetMetrics(m)

	sess, _ := pipeSession(t, r)
	body := scrape(t, m)
	assert.Contains(t, body, "lair_sessions_created_total 1")
	assert.Contains(t, body, "lair_sessions_active 1")

	r.Remove(sess.ID)
	body = scrape(t, m)
	assert.Contains(t, body, "lair_sessions_closed_total 1")
	assert.Contains(t, body, "lair_sessions_active 0")
}

func TestHealthEndpoint(t *testing.T) {
	s := newBareServer(DefaultConfig())
	pipeSession(t, s.registry)

	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, 200, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var payload struct {
		Status        string `json:"status"`
		UptimeSeconds int    `json:"uptime_seconds"`
		Sessions      int    `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, 1, payload.Sessions)
}
