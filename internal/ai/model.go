// Package ai talks to the language model. A Model receives the turn log and
// the declared tool and skill schemas and answers with either text or a set
// of invocation requests.
package ai

import (
	"context"

	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/tools"
)

type Request struct {
	System string
	Turns  []models.ConversationTurn
	// Functions holds every invocable schema, tools and skills alike.
	Functions []tools.Definition
}

// ResponseKind tags a Response.
type ResponseKind int

const (
	KindText ResponseKind = iota
	KindInvocations
)

func (k ResponseKind) String() string {
	if k == KindInvocations {
		return "invocations"
	}
	return "text"
}

// Response is decoded once at the model boundary. When Invocations is
// non-empty the model wants them run before it answers; Text may still carry
// a preamble in that case.
type Response struct {
	Text        string
	Invocations []models.Invocation
}

func (r Response) Kind() ResponseKind {
	if len(r.Invocations) > 0 {
		return KindInvocations
	}
	return KindText
}

// TextFunc receives text fragments in arrival order.
type TextFunc func(fragment string)

// Model completes one request. Implementations that stream call onText for
// every fragment as it arrives; others call it once with the whole text.
// onText may be nil.
type Model interface {
	Complete(ctx context.Context, req Request, onText TextFunc) (Response, error)
}
