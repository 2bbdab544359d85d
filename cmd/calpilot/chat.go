package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/format"
)

const replSessionKey = "cli"

// runREPL reads one message per line and prints the turn as it streams.
// "/reset" clears the conversation, "/quit" or EOF ends the loop.
func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "CalPilot 已就绪。输入 /reset 清空对话，/quit 退出。")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			a.sessions.Reset(replSessionKey)
			fmt.Fprintln(out, "🧹 对话已重置")
			continue
		}

		sess := a.sessions.Get(replSessionKey)
		printTurn(out, a.agent.Send(ctx, sess, line, agent.TurnContext{}))
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printTurn(out io.Writer, events <-chan agent.TurnEvent) {
	midLine := false
	newline := func() {
		if midLine {
			fmt.Fprintln(out)
			midLine = false
		}
	}
	for ev := range events {
		switch ev.Type {
		case agent.EventText:
			fmt.Fprint(out, ev.Content)
			midLine = !strings.HasSuffix(ev.Content, "\n")
		case agent.EventToolCall:
			newline()
			fmt.Fprintln(out, format.ToolCall(ev.Tool, ev.Success, ev.Message))
		case agent.EventSkillStart:
			newline()
			fmt.Fprintln(out, format.SkillStart(ev.Skill))
		case agent.EventSkillResult:
			newline()
			fmt.Fprintln(out, format.SkillResult(ev.Skill, ev.Success, ev.Message))
		case agent.EventDone:
			newline()
		}
	}
	newline()
}
