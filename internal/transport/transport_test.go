package transport

import (
	"context"
	"sync"

	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/orchestrator"
	"github.com/ashureev/voxcore/internal/stream"
)

// fakePipeline replies to every utterance with one token and an end event.
type fakePipeline struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	reply    string
	block    chan struct{}
}

func (p *fakePipeline) Handle(ctx context.Context, req orchestrator.Request, sink stream.Sink) (orchestrator.Result, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return orchestrator.Result{}, ctx.Err()
		}
	}

	reply := p.reply
	if reply == "" {
		reply = "It's 3:04 PM."
	}
	id := "stream-" + req.MessageID
	events := []stream.Event{
		{Type: stream.EventAck, StreamID: id, MessageID: req.MessageID},
		{Type: stream.EventToken, StreamID: id, Content: reply, Final: true},
		{Type: stream.EventEnd, StreamID: id},
	}
	for _, ev := range events {
		if err := sink.Send(ctx, ev); err != nil {
			return orchestrator.Result{}, err
		}
	}
	res := domain.NewIntentResult(domain.KindTimeQuery, 0.95, req.Text, nil, domain.ProvenanceFast)
	return orchestrator.Result{StreamID: id, Intent: res, Text: reply, State: domain.StateIdle}, nil
}

func (p *fakePipeline) Requests() []orchestrator.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]orchestrator.Request(nil), p.requests...)
}

type fakeCanceller struct {
	mu    sync.Mutex
	users []string
}

func (c *fakeCanceller) CancelUser(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return true
}

func (c *fakeCanceller) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

type fakeDetector struct{}

func (fakeDetector) DetectPartial(prefix string) (domain.IntentResult, bool) {
	if prefix != "tell me a" {
		return domain.IntentResult{}, false
	}
	res := domain.NewIntentResult(domain.KindJoke, 0.5, prefix, nil, domain.ProvenancePartial)
	return res.WithAlternatives(domain.KindFact), true
}
