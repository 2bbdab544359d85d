package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/ics"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/models"
)

const (
	maxBodyBytes = 1 << 20
	dateLayout   = "2006-01-02"

	// Default export window around today.
	exportPastDays   = 30
	exportFutureDays = 90
)

type chatRequest struct {
	Message      string          `json:"message"`
	SelectedDate string          `json:"selected_date,omitempty"`
	Events       []*models.Event `json:"events,omitempty"`
}

// handleChat runs one turn and streams each TurnEvent as an SSE data line.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	tc := agent.TurnContext{Location: s.loc, KnownEvents: req.Events}
	if req.SelectedDate != "" {
		d, err := time.ParseInLocation(dateLayout, req.SelectedDate, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "selected_date must be YYYY-MM-DD")
			return
		}
		tc.SelectedDate = d
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := r.Header.Get(SessionHeader)
	if key == "" {
		key = uuid.NewString()
	}
	sess := s.sessions.Get("http:" + key)

	w.Header().Set(SessionHeader, key)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.agent.Send(r.Context(), sess, req.Message, tc) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to encode turn event", slog.String("type", string(ev.Type)), logging.Err(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.ListTools())
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.ListSkills())
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.agent.HasTool(name) {
		writeError(w, http.StatusNotFound, "unknown tool: "+name)
		return
	}
	params, err := decodeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.agent.CallTool(r.Context(), name, params, agent.TurnContext{Location: s.loc}))
}

func (s *Server) handleCallSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.agent.HasSkill(name) {
		writeError(w, http.StatusNotFound, "unknown skill: "+name)
		return
	}
	params, err := decodeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.agent.CallSkill(r.Context(), name, params, agent.TurnContext{Location: s.loc}))
}

// handleExport serves ?start=&end= (YYYY-MM-DD, end inclusive) as iCalendar.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	today := s.now().In(s.loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.loc)
	tr := models.TimeRange{
		Start: today.AddDate(0, 0, -exportPastDays),
		End:   today.AddDate(0, 0, exportFutureDays),
	}
	if v := r.URL.Query().Get("start"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		tr.Start = d
	}
	if v := r.URL.Query().Get("end"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		tr.End = d.AddDate(0, 0, 1)
	}
	if !tr.End.After(tr.Start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	var buf bytes.Buffer
	n, err := ics.Export(r.Context(), &buf, s.store, tr, s.now())
	if err != nil {
		s.logger.Error("failed to export calendar", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calpilot.ics"`)
	w.Header().Set("X-Event-Count", fmt.Sprint(n))
	_, _ = w.Write(buf.Bytes())
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// decodeParams reads a JSON object; an empty body means no parameters.
func decodeParams(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	params := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
