// Package transport connects clients to the orchestrator over websockets, server-sent
// events and NATS.
package transport

import (
	"context"

	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/orchestrator"
	"github.com/ashureev/voxcore/internal/reasoning"
	"github.com/ashureev/voxcore/internal/stream"
)

// Pipeline handles one utterance and streams the reply to sink.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request, sink stream.Sink) (orchestrator.Result, error)
}

// Canceller cancels a user's in-flight reply.
type Canceller interface {
	CancelUser(userID string) bool
}

// PartialDetector predicts intents from unfinished utterances.
type PartialDetector interface {
	DetectPartial(prefix string) (domain.IntentResult, bool)
}

// Inbound message types.
const (
	msgUtterance = "utterance"
	msgPartial   = "partial"
	msgCancel    = "cancel"
	msgPing      = "ping"
)

// inbound is a client message on any transport.
type inbound struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (m inbound) request(userID, sessionID string) orchestrator.Request {
	req := orchestrator.Request{
		UserID:    userID,
		SessionID: sessionID,
		MessageID: m.MessageID,
		Text:      m.Text,
		Mode:      reasoning.ModeCommand,
	}
	if m.Mode == string(reasoning.ModeChat) {
		req.Mode = reasoning.ModeChat
	}
	return req
}

// PartialIntent is the reply to a partial utterance.
type PartialIntent struct {
	Type         string              `json:"type"`
	Found        bool                `json:"found"`
	Intent       domain.IntentKind   `json:"intent"`
	Confidence   float64             `json:"confidence"`
	Alternatives []domain.IntentKind `json:"alternatives,omitempty"`
}

// DetectPartial runs d on text and shapes the answer for clients.
func DetectPartial(d PartialDetector, text string) PartialIntent {
	out := PartialIntent{Type: "partial_intent"}
	res, ok := d.DetectPartial(text)
	if !ok {
		return out
	}
	out.Found = true
	out.Intent = res.Kind
	out.Confidence = res.Confidence
	out.Alternatives = res.Alternatives
	return out
}
