package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/sashabaranov/go-openai"
)

const DefaultTemperature = 0.2

// Client is a Model backed by any OpenAI-compatible chat completions API.
type Client struct {
	client      *openai.Client
	model       string
	stream      bool
	temperature float32
}

type Option func(*Client)

// WithStream toggles streamed completions. Streaming is on by default.
func WithStream(on bool) Option {
	return func(c *Client) { c.stream = on }
}

func WithTemperature(t float32) Option {
	return func(c *Client) { c.temperature = t }
}

func New(apiKey, baseURL, model string, opts ...Option) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	c := &Client{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		stream:      true,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetModel(model string) {
	c.model = model
}

func (c *Client) Complete(ctx context.Context, req Request, onText TextFunc) (Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Tools:       buildTools(req),
		Temperature: c.temperature,
	}
	if c.stream {
		return c.completeStream(ctx, chatReq, onText)
	}
	return c.completeOnce(ctx, chatReq, onText)
}

func (c *Client) completeOnce(ctx context.Context, chatReq openai.ChatCompletionRequest, onText TextFunc) (Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, apperr.Upstream(nil, "no response from AI")
	}

	msg := resp.Choices[0].Message
	out := Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		inv, err := invocation(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return Response{}, err
		}
		out.Invocations = append(out.Invocations, inv)
	}
	if out.Text != "" && onText != nil {
		onText(out.Text)
	}
	return out, nil
}

// partialCall accumulates the streamed deltas of one tool call.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *Client) completeStream(ctx context.Context, chatReq openai.ChatCompletionRequest, onText TextFunc) (Response, error) {
	chatReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	defer stream.Close()

	var text strings.Builder
	calls := map[int]*partialCall{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, classify(ctx, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onText != nil {
				onText(delta.Content)
			}
		}
		for i, tc := range delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			p, ok := calls[idx]
			if !ok {
				p = &partialCall{}
				calls[idx] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}
	}

	out := Response{Text: text.String()}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		p := calls[idx]
		inv, err := invocation(p.id, p.name, p.args.String())
		if err != nil {
			return Response{}, err
		}
		out.Invocations = append(out.Invocations, inv)
	}
	return out, nil
}

// invocation validates the raw function call. Empty arguments become {}.
func invocation(id, name, args string) (models.Invocation, error) {
	if name == "" {
		return models.Invocation{}, apperr.Upstream(nil, "AI returned a tool call without a name")
	}
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return models.Invocation{}, apperr.Upstream(nil, "AI returned malformed arguments for %s", name)
	}
	if id == "" {
		id = fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
	}
	return models.Invocation{ID: id, Name: name, Arguments: json.RawMessage(args)}, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout(err, "AI request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Upstream(err, "failed to call AI API")
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, t := range req.Turns {
		switch t.Role {
		case models.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: t.Content,
			})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: t.Content,
			}
			for _, inv := range t.Invocations {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   inv.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      inv.Name,
						Arguments: string(inv.Arguments),
					},
				})
			}
			messages = append(messages, msg)
		case models.RoleTool, models.RoleSkill:
			if t.CallID == "" {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: "[工具执行结果]\n" + t.Content,
				})
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    t.Content,
				ToolCallID: t.CallID,
			})
		}
	}
	return messages
}

func buildTools(req Request) []openai.Tool {
	if len(req.Functions) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(req.Functions))
	for _, def := range req.Functions {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
