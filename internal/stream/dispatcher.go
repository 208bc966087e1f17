// Package stream delivers replies as ordered, cancellable token streams with at most
// one active stream per user.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchWords is the number of words per token event.
const DefaultBatchWords = 5

var (
	// ErrStreamClosed is returned for events sent after a terminal event.
	ErrStreamClosed = errors.New("stream closed")
	// ErrTextSent is returned when text is streamed after the final token.
	ErrTextSent = errors.New("final token already sent")
	// ErrSuperseded is the cancellation cause of a stream replaced by the user's next request.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrCancelled is the cancellation cause of a stream cancelled on request.
	ErrCancelled = errors.New("cancelled")
)

// Dispatcher owns the active stream of every user. It is safe for concurrent use.
type Dispatcher struct {
	mu     sync.Mutex
	active map[string]*Stream

	batchWords int
	newID      func() string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchWords sets the number of words per token event.
func WithBatchWords(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchWords = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithIDGenerator overrides stream and message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(d *Dispatcher) { d.newID = gen }
}

// NewDispatcher creates a dispatcher with no active streams.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		active:     make(map[string]*Stream),
		batchWords: DefaultBatchWords,
		newID:      uuid.NewString,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start opens a stream for userID, cancelling the user's previous stream if one is
// still active, and emits the start event. The stream's context is derived from ctx
// and is cancelled when the stream terminates; context.Cause tells a superseded stream
// from one whose caller went away. An empty messageID gets a fresh id.
func (d *Dispatcher) Start(ctx context.Context, userID, messageID string, sink Sink) *Stream {
	if messageID == "" {
		messageID = d.newID()
	}
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Stream{
		ID:        d.newID(),
		UserID:    userID,
		MessageID: messageID,
		ctx:       sctx,
		cancel:    cancel,
		sink:      sink,
		d:         d,
		startedAt: d.now(),
	}

	// Held until the start event is out; a concurrent supersede cannot cancel s first.
	s.mu.Lock()
	defer s.mu.Unlock()

	d.mu.Lock()
	prev := d.active[userID]
	d.active[userID] = s
	d.mu.Unlock()

	if prev != nil && prev.cancelWith(ErrSuperseded) {
		d.logger.Info("Cancelled superseded stream",
			"user_id", userID,
			"stream_id", prev.ID,
			"next_stream_id", s.ID)
	}

	if err := s.emitLocked(Event{Type: EventStart}); err != nil {
		d.logger.Warn("failed to emit stream start", "stream_id", s.ID, "error", err)
	}
	return s
}

// CancelUser cancels the user's active stream. It reports whether one was active.
func (d *Dispatcher) CancelUser(userID string) bool {
	d.mu.Lock()
	s := d.active[userID]
	delete(d.active, userID)
	d.mu.Unlock()

	if s == nil {
		return false
	}
	return s.Cancel()
}

// Active returns the user's active stream.
func (d *Dispatcher) Active(userID string) (*Stream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.active[userID]
	return s, ok
}

// ActiveCount returns the number of users with an active stream.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// CancelAll cancels every active stream, for shutdown.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	streams := make([]*Stream, 0, len(d.active))
	for _, s := range d.active {
		streams = append(streams, s)
	}
	clear(d.active)
	d.mu.Unlock()

	for _, s := range streams {
		s.Cancel()
	}
}

func (d *Dispatcher) release(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[s.UserID] == s {
		delete(d.active, s.UserID)
	}
}

// Stream is one reply being delivered to a user.
type Stream struct {
	ID        string
	UserID    string
	MessageID string

	ctx       context.Context
	cancel    context.CancelCauseFunc
	d         *Dispatcher
	startedAt time.Time

	mu        sync.Mutex
	sink      Sink
	closed    bool
	seq       int
	tokens    int
	finalSent bool
	cause     error
}

// Context is cancelled when the stream terminates or is superseded. Work done on behalf
// of the stream, including remote calls, should use it.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Active reports whether the stream can still emit events.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Elapsed returns the time since the stream started.
func (s *Stream) Elapsed() time.Duration {
	return s.d.now().Sub(s.startedAt)
}

// Meta emits a side-channel metadata event.
func (s *Stream) Meta(kind string, data any) error {
	return s.emit(Event{Type: EventMeta, Kind: kind, Data: data})
}

// Notice emits a user-facing notice such as an acknowledgement or a clarification.
func (s *Stream) Notice(t EventType, message string, data any) error {
	return s.emit(Event{Type: t, Message: message, Data: data})
}

// Text streams text as token events of batched words, the last flagged final. Empty
// text yields a single empty final token. Cancellation is checked before each batch.
func (s *Stream) Text(text string) error {
	words := strings.Fields(text)
	if len(words) == 0 {
		return s.token("", true)
	}
	n := s.d.batchWords
	for i := 0; i < len(words); i += n {
		if s.ctx.Err() != nil {
			return fmt.Errorf("stream %s: %w", s.ID, context.Cause(s.ctx))
		}
		end := min(i+n, len(words))
		chunk := strings.Join(words[i:end], " ")
		if i > 0 {
			chunk = " " + chunk
		}
		if err := s.token(chunk, end == len(words)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) token(content string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalSent && !s.closed {
		return ErrTextSent
	}
	err := s.emitLocked(Event{Type: EventToken, Content: content, Index: s.tokens, Final: final})
	if err != nil {
		return err
	}
	s.tokens++
	s.finalSent = final
	return nil
}

// End terminates the stream successfully.
func (s *Stream) End(latency time.Duration) error {
	return s.emit(Event{Type: EventEnd, LatencyMs: latency.Milliseconds()})
}

// Fail terminates the stream with an error message.
func (s *Stream) Fail(message string) error {
	return s.emit(Event{Type: EventError, Message: message})
}

// Cancel terminates the stream with a cancelled event and cancels its context. It
// reports whether this call did the cancelling, and is a no-op on a closed stream.
func (s *Stream) Cancel() bool {
	return s.cancelWith(ErrCancelled)
}

func (s *Stream) cancelWith(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.cause = cause
	if err := s.emitLocked(Event{Type: EventCancelled}); err != nil {
		s.d.logger.Debug("failed to deliver cancelled event", "stream_id", s.ID, "error", err)
	}
	return true
}

func (s *Stream) emit(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(ev)
}

func (s *Stream) emitLocked(ev Event) error {
	if s.closed {
		return ErrStreamClosed
	}
	ev.StreamID = s.ID
	ev.MessageID = s.MessageID
	ev.UserID = s.UserID
	ev.Seq = s.seq
	ev.Timestamp = s.d.now()
	s.seq++

	if ev.Type.Terminal() {
		s.closeLocked()
	}
	// Terminal events are delivered after the stream context is cancelled.
	if err := s.sink.Send(context.WithoutCancel(s.ctx), ev); err != nil {
		if !s.closed {
			s.d.logger.Warn("Stream sink failed, closing stream", "stream_id", s.ID, "user_id", s.UserID, "error", err)
			s.closeLocked()
		}
		return fmt.Errorf("send %s event: %w", ev.Type, err)
	}
	return nil
}

func (s *Stream) closeLocked() {
	s.closed = true
	s.cancel(s.cause)
	s.d.release(s)
}
