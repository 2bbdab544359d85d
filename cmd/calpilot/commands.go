package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/bot"
	"github.com/hray3182/calpilot/internal/bot/handlers"
	"github.com/hray3182/calpilot/internal/httpapi"
	"github.com/hray3182/calpilot/internal/ics"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/mcpserver"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/scheduler"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newBotCmd() *cobra.Command {
	var withHTTP bool
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot and its notification jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.TelegramToken == "" {
				return errors.New("TELEGRAM_TOKEN is required")
			}
			api, err := tgbotapi.NewBotAPI(a.cfg.TelegramToken)
			if err != nil {
				return fmt.Errorf("failed to create Telegram API: %w", err)
			}

			go a.sweepSessions(ctx)

			if a.cfg.NotifyChatID != 0 {
				sched, err := scheduler.New(api, a.agent, a.store, scheduler.Config{
					ChatID:      a.cfg.NotifyChatID,
					NotifySpec:  a.cfg.NotifyCron,
					SummarySpec: a.cfg.SummaryCron,
					Location:    a.loc,
				}, scheduler.WithMarker(a.marker), scheduler.WithLogger(a.logger), scheduler.WithMetrics(a.metrics))
				if err != nil {
					return err
				}
				go sched.Start(ctx)
			} else {
				a.logger.Info("NOTIFY_CHAT_ID not set, notifications disabled")
			}

			if withHTTP {
				srv := httpapi.New(a.agent, a.sessions, a.store, a.loc,
					httpapi.WithLogger(a.logger), httpapi.WithMetrics(a.metrics))
				go func() {
					if err := srv.Serve(ctx, a.cfg.HTTPAddr); err != nil {
						a.logger.Error("http server stopped", logging.Err(err))
					}
				}()
			}

			h := handlers.New(api, a.agent, a.sessions, a.loc, a.logger)
			b := bot.New(api, h, a.logger)
			a.logger.Info("starting bot")
			if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bot error: %w", err)
			}
			a.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "also serve the HTTP API on HTTP_ADDR")
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			go a.sweepSessions(ctx)

			srv := httpapi.New(a.agent, a.sessions, a.store, a.loc,
				httpapi.WithLogger(a.logger), httpapi.WithMetrics(a.metrics))
			return srv.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose tools and skills as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := mcpserver.New(a.agent, version, a.loc, a.logger)
			if err != nil {
				return err
			}
			return mcpserver.Serve(s)
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runREPL(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newExportCmd() *cobra.Command {
	var start, end, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write events as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tr, err := exportRange(start, end, time.Now(), a.loc)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			n, err := ics.Export(ctx, w, a.store, tr, time.Now())
			if err != nil {
				return err
			}
			a.logger.Info("exported events", slog.Int("count", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default start + 30 days)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

// exportRange resolves the export flags; end is inclusive.
func exportRange(start, end string, now time.Time, loc *time.Location) (models.TimeRange, error) {
	n := now.In(loc)
	tr := models.TimeRange{Start: time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)}
	if start != "" {
		d, err := time.ParseInLocation("2006-01-02", start, loc)
		if err != nil {
			return tr, fmt.Errorf("invalid --start %q: %w", start, err)
		}
		tr.Start = d
	}
	tr.End = tr.Start.AddDate(0, 0, 30)
	if end != "" {
		d, err := time.ParseInLocation("2006-01-02", end, loc)
		if err != nil {
			return tr, fmt.Errorf("invalid --end %q: %w", end, err)
		}
		tr.End = d.AddDate(0, 0, 1)
	}
	if !tr.End.After(tr.Start) {
		return tr, errors.New("--end must not be before --start")
	}
	return tr, nil
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools and skills offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"tools":  a.agent.ListTools(),
					"skills": a.agent.ListSkills(),
				})
			}
			fmt.Fprintln(w, "Tools:")
			for _, d := range a.agent.ListTools() {
				fmt.Fprintf(w, "  %-20s %s\n", d.Name, d.Description)
			}
			fmt.Fprintln(w, "\nSkills:")
			for _, d := range a.agent.ListSkills() {
				fmt.Fprintf(w, "  %-20s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full JSON schemas")
	return cmd
}
