package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ashureev/voxcore/internal/stream"
)

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL           string
	Name          string
	Prefix        string
	Timeout       time.Duration
	HandleTimeout time.Duration
}

// publisher is the subset of *nats.Conn used to emit events.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSTransport accepts utterances on <prefix>.utterance and publishes reply events to
// <prefix>.events.<user_id>.
type NATSTransport struct {
	conn      *nats.Conn
	pub       publisher
	cfg       NATSConfig
	pipeline  Pipeline
	canceller Canceller
	logger    *slog.Logger

	subs     []*nats.Subscription
	inflight sync.WaitGroup
}

// NATSReply answers a request/reply utterance once its stream finishes.
type NATSReply struct {
	StreamID string `json:"stream_id,omitempty"`
	Intent   string `json:"intent,omitempty"`
	Text     string `json:"text,omitempty"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewNATSTransport connects to the NATS server at cfg.URL.
func NewNATSTransport(cfg NATSConfig, pipeline Pipeline, canceller Canceller, logger *slog.Logger) (*NATSTransport, error) {
	cfg = cfg.withDefaults()
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t := newNATSTransport(conn, cfg, pipeline, canceller, logger)
	t.conn = conn
	t.logger.Info("Connected to NATS server", "url", cfg.URL)
	return t, nil
}

func newNATSTransport(pub publisher, cfg NATSConfig, pipeline Pipeline, canceller Canceller, logger *slog.Logger) *NATSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTransport{
		pub:       pub,
		cfg:       cfg.withDefaults(),
		pipeline:  pipeline,
		canceller: canceller,
		logger:    logger,
	}
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.Name == "" {
		c.Name = "voxcore"
	}
	if c.Prefix == "" {
		c.Prefix = "voxcore"
	}
	c.Prefix = strings.TrimSuffix(c.Prefix, ".")
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 30 * time.Second
	}
	return c
}

func (t *NATSTransport) subject(parts ...string) string {
	return t.cfg.Prefix + "." + strings.Join(parts, ".")
}

// EventSubject returns the subject events for userID are published on.
func (t *NATSTransport) EventSubject(userID string) string {
	return t.subject("events", userID)
}

// Start subscribes to the utterance and cancel subjects.
func (t *NATSTransport) Start() error {
	if t.conn == nil {
		return fmt.Errorf("nats transport not connected")
	}
	for subj, handler := range map[string]nats.MsgHandler{
		t.subject(msgUtterance): t.handleUtterance,
		t.subject(msgCancel):    t.handleCancel,
	} {
		sub, err := t.conn.Subscribe(subj, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subj, err)
		}
		t.subs = append(t.subs, sub)
		t.logger.Info("Subscribed to subject", "subject", subj)
	}
	return nil
}

func (t *NATSTransport) handleUtterance(msg *nats.Msg) {
	var in inbound
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		t.logger.Warn("Invalid utterance message", "subject", msg.Subject, "error", err)
		t.reply(msg, NATSReply{Error: "invalid request format"})
		return
	}
	if in.UserID == "" || strings.TrimSpace(in.Text) == "" {
		t.reply(msg, NATSReply{Error: "user_id and text are required"})
		return
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandleTimeout)
		defer cancel()

		sink := stream.SinkFunc(func(_ context.Context, ev stream.Event) error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return t.pub.Publish(t.EventSubject(in.UserID), data)
		})
		res, err := t.pipeline.Handle(ctx, in.request(in.UserID, sessionID), sink)
		out := NATSReply{
			StreamID: res.StreamID,
			Intent:   res.Intent.Kind.String(),
			Text:     res.Text,
			State:    string(res.State),
		}
		if err != nil {
			out.Error = err.Error()
			t.logger.Debug("Utterance not completed", "user_id", in.UserID, "error", err)
		}
		t.reply(msg, out)
	}()
}

func (t *NATSTransport) handleCancel(msg *nats.Msg) {
	var in inbound
	if err := json.Unmarshal(msg.Data, &in); err != nil || in.UserID == "" {
		t.logger.Warn("Invalid cancel message", "subject", msg.Subject)
		return
	}
	cancelled := t.canceller != nil && t.canceller.CancelUser(in.UserID)
	t.logger.Info("Cancel requested", "user_id", in.UserID, "cancelled", cancelled)
	if msg.Reply != "" {
		data, _ := json.Marshal(map[string]bool{"cancelled": cancelled})
		if err := t.pub.Publish(msg.Reply, data); err != nil {
			t.logger.Warn("Failed to send cancel reply", "error", err)
		}
	}
}

func (t *NATSTransport) reply(msg *nats.Msg, out NATSReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.logger.Warn("Failed to marshal reply", "error", err)
		return
	}
	if err := t.pub.Publish(msg.Reply, data); err != nil {
		t.logger.Warn("Failed to send reply", "subject", msg.Reply, "error", err)
	}
}

// Wait blocks until every in-flight utterance has finished.
func (t *NATSTransport) Wait() {
	t.inflight.Wait()
}

// Close unsubscribes, waits for in-flight utterances and closes the connection.
func (t *NATSTransport) Close() error {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debug("Failed to unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	t.subs = nil
	t.inflight.Wait()
	if t.conn != nil {
		t.conn.Close()
		t.logger.Info("NATS connection closed")
	}
	return nil
}
