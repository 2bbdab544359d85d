// Package scheduler runs the cron jobs that push calendar notices to
// Telegram: upcoming-event reminders and the morning summary.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/format"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/rrule"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultLead is how far ahead events are announced.
const DefaultLead = 15 * time.Minute

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Marker remembers which events were announced. MarkNotified reports false
// when the event was marked before.
type Marker interface {
	MarkNotified(ctx context.Context, eventID string) (bool, error)
}

// MemoryMarker is a Marker for the in-memory store. Marks are lost on
// restart.
type MemoryMarker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: make(map[string]struct{})}
}

func (m *MemoryMarker) MarkNotified(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = struct{}{}
	return true, nil
}

type Config struct {
	ChatID      int64
	NotifySpec  string
	SummarySpec string
	Location    *time.Location
}

type Option func(*Scheduler)

func WithMarker(m Marker) Option {
	return func(s *Scheduler) { s.marker = m }
}

func WithLead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lead = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type Scheduler struct {
	cron   *cron.Cron
	api    Sender
	agent  *agent.Agent
	store  store.Store
	marker Marker

	chatID int64
	loc    *time.Location
	lead   time.Duration
	now    func() time.Time

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New registers both jobs. An empty schedule disables its job.
func New(api Sender, a *agent.Agent, st store.Store, cfg Config, opts ...Option) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		api:    api,
		agent:  a,
		store:  st,
		marker: NewMemoryMarker(),
		chatID: cfg.ChatID,
		loc:    loc,
		lead:   DefaultLead,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithOperation(s.logger, "scheduler")

	if cfg.NotifySpec != "" {
		if _, err := s.cron.AddFunc(cfg.NotifySpec, func() { s.CheckUpcoming(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid notify schedule %q: %w", cfg.NotifySpec, err)
		}
	}
	if cfg.SummarySpec != "" {
		if _, err := s.cron.AddFunc(cfg.SummarySpec, func() {
			if err := s.SendSummary(context.Background()); err != nil {
				s.logger.Error("failed to send daily summary", logging.Err(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid summary schedule %q: %w", cfg.SummarySpec, err)
		}
	}
	return s, nil
}

// Start runs the jobs until ctx is canceled, then waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// CheckUpcoming announces timed events starting within the lead window that
// were not announced before. It returns the number of notices sent.
func (s *Scheduler) CheckUpcoming(ctx context.Context) int {
	now := s.now().In(s.loc)
	events, err := s.store.List(ctx, models.TimeRange{Start: now, End: now.Add(s.lead)}, "")
	if err != nil {
		s.logger.Error("failed to list upcoming events", logging.Err(err))
		return 0
	}

	sent := 0
	for _, e := range events {
		if e.AllDay || e.Start.Before(now) {
			continue
		}
		fresh, err := s.marker.MarkNotified(ctx, e.ID)
		if err != nil {
			s.logger.Error("failed to mark event notified", slog.String("event", e.ID), logging.Err(err))
			continue
		}
		if !fresh {
			continue
		}
		if err := s.send(upcomingText(e, now, s.loc)); err != nil {
			s.logger.Error("failed to send event notification", slog.String("event", e.ID), logging.Err(err))
			continue
		}
		sent++
		s.logger.Info("sent event notification", slog.String("event", e.ID))
	}
	return sent
}

func upcomingText(e *models.Event, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📅 **即将开始的事件**\n\n")
	fmt.Fprintf(&b, "**%s**\n⏰ %s", e.Title, e.Start.In(loc).Format("15:04"))
	if until := e.Start.Sub(now); until > 0 {
		fmt.Fprintf(&b, "（约 %s 后）", format.Duration(until))
	}
	fmt.Fprintf(&b, "\n⏱ %s", format.Duration(e.Duration()))
	if e.Location != "" {
		b.WriteString("\n📍 " + e.Location)
	}
	if e.Recurrence != nil {
		b.WriteString("\n🔄 " + rrule.HumanReadableChinese(e.Recurrence, loc))
	}
	if e.Description != "" {
		b.WriteString("\n\n" + e.Description)
	}
	return b.String()
}

// SendSummary runs schedule_management for today and sends its message.
func (s *Scheduler) SendSummary(ctx context.Context) error {
	now := s.now().In(s.loc)
	today := now.Format("2006-01-02")
	res := s.agent.CallSkill(ctx, "schedule_management",
		map[string]any{"start_date": today, "end_date": today},
		agent.TurnContext{Now: now, Location: s.loc})
	if !res.Success {
		return fmt.Errorf("schedule_management failed: %s", res.Message)
	}

	text := fmt.Sprintf("☀️ **%s**\n\n📅 %s\n\n%s\n\n祝你有美好的一天！💪",
		format.Greeting(now.Hour()), now.Format("2006/01/02"), res.Message)
	if err := s.send(text); err != nil {
		return err
	}
	s.logger.Info("sent daily summary", slog.Int64("chat", s.chatID))
	return nil
}

func (s *Scheduler) send(text string) error {
	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(s.chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.metrics.NotificationSent()
	return nil
}
