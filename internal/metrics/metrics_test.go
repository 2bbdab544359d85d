package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveTool("create_event", true, 20*time.Millisecond)
	m.ObserveTool("create_event", false, time.Millisecond)
	m.ObserveSkill("meeting_planning", true)
	m.ObserveModel(true, time.Second)
	done := m.TurnStarted()
	done("ok")
	m.NotificationSent()

	out := scrape(t, m)
	assert.Contains(t, out, `calpilot_tool_invocations_total{name="create_event",status="success"} 1`)
	assert.Contains(t, out, `calpilot_tool_invocations_total{name="create_event",status="error"} 1`)
	assert.Contains(t, out, `calpilot_skill_invocations_total{name="meeting_planning",status="success"} 1`)
	assert.Contains(t, out, `calpilot_model_requests_total{status="success"} 1`)
	assert.Contains(t, out, `calpilot_turns_total{kind="ok"} 1`)
	assert.Contains(t, out, `calpilot_active_turns 0`)
	assert.Contains(t, out, `calpilot_notifications_sent_total 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTool("x", true, 0)
		m.ObserveSkill("x", false)
		m.ObserveModel(false, 0)
		m.TurnStarted()("timeout")
		m.NotificationSent()
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
