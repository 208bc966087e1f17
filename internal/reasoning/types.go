// Package reasoning is the client side of the remote reasoning service that resolves
// utterances the local classifier cannot.
package reasoning

import (
	"context"

	"github.com/ashureev/voxcore/internal/domain"
)

// Mode tells the remote service how to treat the utterance.
type Mode string

const (
	ModeCommand Mode = "command"
	ModeChat    Mode = "chat"
)

// Query is one resolution request.
type Query struct {
	Text      string
	Assistant string
	User      string
	Context   domain.ConversationContext
	Mode      Mode
}

// Resolver resolves free text into an intent or a free-text reply. Errors wrap
// domain.ErrRemoteServiceFailure or domain.ErrMalformedResponse.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (domain.IntentResult, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, q Query) (domain.IntentResult, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, q Query) (domain.IntentResult, error) {
	return f(ctx, q)
}
