package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/ai"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/skills"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

var ref = time.Date(2024, 1, 10, 10, 0, 0, 0, cst)

type scripted struct {
	mu        sync.Mutex
	responses []ai.Response
	requests  []ai.Request
}

func (s *scripted) Complete(_ context.Context, req ai.Request, onText ai.TextFunc) (ai.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	if resp.Text != "" {
		onText(resp.Text)
	}
	return resp, nil
}

type fixture struct {
	model    *scripted
	store    store.Store
	sessions *session.Manager
	srv      *httptest.Server
}

func newFixture(t *testing.T, responses ...ai.Response) *fixture {
	t.Helper()
	model := &scripted{responses: responses}
	st := store.NewMemory()
	m := metrics.New()
	toolReg := tools.NewDefault(tools.WithMetrics(m))
	clock := func() time.Time { return ref }
	a := agent.New(model, toolReg, skills.NewDefault(toolReg), st,
		agent.WithClock(clock), agent.WithLocation(cst), agent.WithMetrics(m))
	sessions := session.NewManager(time.Hour)
	s := New(a, sessions, st, cst, WithMetrics(m), WithClock(clock))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{model: model, store: st, sessions: sessions, srv: srv}
}

func (f *fixture) post(t *testing.T, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChatStreamsEvents(t *testing.T) {
	f := newFixture(t,
		ai.Response{Invocations: []models.Invocation{{
			ID: "c1", Name: "create_event", Arguments: json.RawMessage(`{"title":"评审","start_time":"明天下午3点"}`),
		}}},
		ai.Response{Text: "已创建。"},
	)

	resp := f.post(t, "/api/chat", `{"message":"明天下午3点评审"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	key := resp.Header.Get(SessionHeader)
	assert.NotEmpty(t, key)

	events := readEvents(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "tool_call", events[0]["type"])
	assert.Equal(t, "create_event", events[0]["tool"])
	assert.Equal(t, true, events[0]["success"])
	assert.Equal(t, "text", events[1]["type"])
	assert.Equal(t, "已创建。", events[1]["content"])
	assert.Equal(t, "done", events[2]["type"])

	sess, ok := f.sessions.Lookup("http:" + key)
	require.True(t, ok)
	assert.Equal(t, 4, sess.Len())
}

func TestChatReusesSession(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "好"})
	header := http.Header{SessionHeader: []string{"abc"}}

	readEvents(t, f.post(t, "/api/chat", `{"message":"一"}`, header).Body)
	readEvents(t, f.post(t, "/api/chat", `{"message":"二","selected_date":"2024-01-12"}`, header).Body)

	require.Len(t, f.model.requests, 2)
	assert.Len(t, f.model.requests[1].Turns, 3)
	assert.Contains(t, f.model.requests[1].System, "2024-01-12")
}

func TestChatRejectsBadInput(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/chat", `{"message":"  "}`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/chat", `not json`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/chat", `{"message":"hi","selected_date":"tomorrow"}`, nil).StatusCode)
	assert.Empty(t, f.model.requests)
}

func TestListDefinitions(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	var defs []tools.Definition
	require.NoError(t, json.NewDecoder(f.get(t, "/api/tools").Body).Decode(&defs))
	require.Len(t, defs, 10)
	assert.Equal(t, "create_event", defs[0].Name)

	require.NoError(t, json.NewDecoder(f.get(t, "/api/skills").Body).Decode(&defs))
	require.Len(t, defs, 3)
}

func TestCallTool(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	resp := f.post(t, "/api/tools/create_event",
		`{"title":"站会","start_time":"2024-01-11T09:00:00+08:00","end_time":"2024-01-11T09:15:00+08:00"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Success bool `json:"success"`
		Data    struct {
			Event models.Event `json:"event"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "站会", res.Data.Event.Title)

	events, err := f.store.List(context.Background(), models.TimeRange{Start: ref, End: ref.AddDate(0, 0, 2)}, "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCallToolFailureIsResult(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	resp := f.post(t, "/api/tools/get_event", `{"event_id":"missing"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res tools.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "not_found", string(res.Error.Kind))
}

func TestCallUnknownAndMalformed(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/tools/teleport", `{}`, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/skills/teleport", `{}`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/tools/list_events", `[1,2]`, nil).StatusCode)
}

func TestCallSkill(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})

	resp := f.post(t, "/api/skills/meeting_planning", `{"title":"周会","date":"2024-01-11","duration_minutes":30}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res skills.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Len(t, res.Steps, 2)
	assert.Contains(t, res.Message, "周会")
}

func TestExportCalendar(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})
	start := ref.AddDate(0, 0, 1)
	_, err := f.store.Create(context.Background(), &models.Event{Title: "评审", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	resp := f.get(t, "/api/calendar.ics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	assert.Equal(t, "1", resp.Header.Get("X-Event-Count"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:评审")

	resp = f.get(t, "/api/calendar.ics?start=2024-02-01&end=2024-02-02")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-Event-Count"))

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/calendar.ics?start=2024-02-05&end=2024-02-01").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/calendar.ics?start=soon").StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, ai.Response{Text: "unused"})
	f.post(t, "/api/tools/list_events", `{}`, nil)

	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "calpilot_tool_invocations_total")
}
