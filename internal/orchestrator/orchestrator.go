// Package orchestrator runs the per-utterance pipeline: dialog routing, local or remote
// resolution with offline fallback, confirmation and clarification gating, action
// dispatch and streamed delivery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voxcore/internal/cache"
	"github.com/ashureev/voxcore/internal/conversation"
	"github.com/ashureev/voxcore/internal/dialog"
	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/intent"
	"github.com/ashureev/voxcore/internal/latency"
	"github.com/ashureev/voxcore/internal/reasoning"
	"github.com/ashureev/voxcore/internal/stream"
)

// Thresholds for choosing a resolution path.
const (
	// FastPathThreshold is the confidence a local intent must exceed to skip the remote call.
	FastPathThreshold = 0.8
	// OfflineThreshold is the relaxed bar for local matches when the remote call failed.
	OfflineThreshold = 0.5
)

// ApologyMessage is said when neither the remote service nor the local classifier can
// resolve an utterance.
const ApologyMessage = "Sorry, I'm having trouble answering that right now. Please try again in a moment."

// Answer is a produced reply, as stored in the response cache.
type Answer struct {
	Intent domain.IntentResult `json:"intent"`
	Text   string              `json:"text"`
}

// Request is one utterance from a user session.
type Request struct {
	UserID    string
	SessionID string
	MessageID string
	Text      string
	// FastIntent is an intent already resolved by the client, if any.
	FastIntent *domain.IntentResult
	Mode       reasoning.Mode
}

// Result summarises a handled request.
type Result struct {
	StreamID string
	Intent   domain.IntentResult
	Text     string
	// State is the session's dialog state after the request.
	State domain.DialogState
}

// Config holds the collaborators of an Orchestrator. Classifier, Dialogs and Streams
// are required.
type Config struct {
	Classifier *intent.Classifier
	Dialogs    *dialog.Manager
	Streams    *stream.Dispatcher
	Cache      *cache.Cache[Answer]
	Resolver   reasoning.Resolver
	History    conversation.Store
	Executor   Executor
	Tracker    *latency.Tracker
	Recorder   *latency.Recorder

	AssistantName string
	HistoryLimit  int
	Rand          *rand.Rand
	Now           func() time.Time
	Logger        *slog.Logger
}

// Orchestrator is safe for concurrent use by many sessions.
type Orchestrator struct {
	classifier *intent.Classifier
	dialogs    *dialog.Manager
	streams    *stream.Dispatcher
	cache      *cache.Cache[Answer]
	resolver   reasoning.Resolver
	history    conversation.Store
	executor   Executor
	tracker    *latency.Tracker
	recorder   *latency.Recorder

	assistant    string
	historyLimit int
	now          func() time.Time
	logger       *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// New validates cfg and fills defaults for the optional collaborators.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Classifier == nil || cfg.Dialogs == nil || cfg.Streams == nil {
		return nil, errors.New("orchestrator requires a classifier, a dialog manager and a stream dispatcher")
	}
	o := &Orchestrator{
		classifier:   cfg.Classifier,
		dialogs:      cfg.Dialogs,
		streams:      cfg.Streams,
		cache:        cfg.Cache,
		resolver:     cfg.Resolver,
		history:      cfg.History,
		executor:     cfg.Executor,
		tracker:      cfg.Tracker,
		recorder:     cfg.Recorder,
		assistant:    cfg.AssistantName,
		historyLimit: cfg.HistoryLimit,
		rand:         cfg.Rand,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
	if o.assistant == "" {
		o.assistant = "Vox"
	}
	if o.historyLimit <= 0 {
		o.historyLimit = conversation.DefaultHistoryLimit
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracker == nil {
		o.tracker = latency.NewTracker(nil, o.now)
	}
	if o.recorder == nil {
		o.recorder = latency.NewRecorder(latency.DefaultRecorderSize)
	}
	return o, nil
}

// turn carries the state of one request through the pipeline.
type turn struct {
	req    Request
	key    string
	st     *stream.Stream
	trace  string
	errs   []string
	clarif bool
	// dialog marks a reply to a pending confirmation or clarification.
	dialog bool
}

func (t *turn) fail(err error) {
	t.errs = append(t.errs, err.Error())
}

// Handle processes one utterance and streams the reply to sink. A new request for the
// same user cancels this one; the returned error is non-nil only when the request was
// cancelled or the sink failed. Remote and parsing failures are answered, not returned.
// The stream always ends with a terminal event before Handle returns.
func (o *Orchestrator) Handle(ctx context.Context, req Request, sink stream.Sink) (Result, error) {
	t := &turn{
		req:   req,
		key:   domain.SessionKey(req.UserID, req.SessionID),
		trace: uuid.NewString(),
	}
	o.tracker.Begin(t.trace)
	o.tracker.Mark(t.trace, latency.CheckpointTranscriptReady)

	t.st = o.streams.Start(ctx, req.UserID, req.MessageID, o.markingSink(t.trace, sink))
	defer t.st.Cancel()
	if err := t.st.Notice(stream.EventAck, "", map[string]string{"message_id": t.st.MessageID}); err != nil {
		o.tracker.Finish(t.trace)
		return Result{StreamID: t.st.ID}, err
	}

	ans, handled := o.continueDialog(t)
	if !handled {
		ans = o.answer(t)
	}
	return o.deliver(t, ans)
}

// markingSink records the first token of a stream.
func (o *Orchestrator) markingSink(trace string, sink stream.Sink) stream.Sink {
	var once sync.Once
	return stream.SinkFunc(func(ctx context.Context, ev stream.Event) error {
		if ev.Type == stream.EventToken {
			once.Do(func() { o.tracker.Mark(trace, latency.CheckpointFirstToken) })
		}
		return sink.Send(ctx, ev)
	})
}

// continueDialog routes the utterance to a pending confirmation or clarification.
func (o *Orchestrator) continueDialog(t *turn) (Answer, bool) {
	r := o.dialogs.HandleReply(t.key, t.req.Text)
	if !r.Handled {
		return Answer{}, false
	}
	t.dialog = true

	if r.Confirmation != "" {
		_ = t.st.Meta("confirmation", map[string]string{"outcome": string(r.Confirmation), "intent": r.Intent.Kind.String()})
		switch r.Confirmation {
		case dialog.OutcomeConfirmed:
			return o.execute(t, r.Intent), true
		case dialog.OutcomeCancelled:
			return Answer{Intent: r.Intent, Text: o.pick(cancelledPhrases)}, true
		case dialog.OutcomeExpired:
			t.fail(r.Err)
			return Answer{Intent: r.Intent, Text: "That request timed out, so I didn't go ahead. Please ask again."}, true
		default:
			return Answer{Intent: r.Intent, Text: r.Prompt}, true
		}
	}

	switch r.Action {
	case dialog.ActionExecute:
		return o.respond(t, r.Intent), true
	case dialog.ActionReprocess:
		res := o.resolveText(t, r.Text)
		if dialog.NeedsClarification(res) {
			q, ok := o.dialogs.Reask(t.key, res)
			if !ok {
				t.fail(fmt.Errorf("session %s: %w", t.key, domain.ErrDisambiguationExhausted))
				return Answer{Intent: res, Text: dialog.GiveUpMessage}, true
			}
			return o.clarify(t, res, q), true
		}
		o.dialogs.Clear(t.key)
		return o.respond(t, res), true
	case dialog.ActionCancel:
		return Answer{Intent: domain.NewIntentResult(domain.KindGeneral, 1, t.req.Text, nil, domain.ProvenanceFast), Text: o.pick(cancelledPhrases)}, true
	case dialog.ActionRetry:
		t.clarif = true
		_ = t.st.Notice(stream.EventClarification, r.Prompt, nil)
		return Answer{Intent: r.Intent, Text: r.Prompt}, true
	default:
		t.fail(r.Err)
		return Answer{Intent: r.Intent, Text: r.Prompt}, true
	}
}

// answer tries the fast path, then a cached answer, then the remote service with its
// offline fallback.
func (o *Orchestrator) answer(t *turn) Answer {
	if fi := t.req.FastIntent; fi != nil && fi.Confidence > FastPathThreshold {
		return o.respond(t, fi.WithProvenance(domain.ProvenanceFast))
	}
	if res, ok := o.fast(t.req.Text); ok {
		return o.respond(t, res)
	}
	if o.cache != nil {
		if cached, ok := o.cache.Get(t.req.Text, t.req.UserID); ok {
			o.tracker.Mark(t.trace, latency.CheckpointIntentResolved)
			cached.Intent = cached.Intent.WithProvenance(domain.ProvenanceCache)
			return cached
		}
	}
	return o.respond(t, o.remote(t, t.req.Text))
}

// resolveText resolves a reprocessed clarification reply, bypassing the cache.
func (o *Orchestrator) resolveText(t *turn, text string) domain.IntentResult {
	if res, ok := o.fast(text); ok {
		return res
	}
	return o.remote(t, text)
}

func (o *Orchestrator) fast(text string) (domain.IntentResult, bool) {
	res, ok := o.classifier.Detect(text)
	if !ok || res.Confidence <= FastPathThreshold {
		return domain.IntentResult{}, false
	}
	return res.WithProvenance(domain.ProvenanceFast), true
}

func (o *Orchestrator) remote(t *turn, text string) domain.IntentResult {
	if o.resolver == nil {
		return o.offline(t, text)
	}

	_ = t.st.Meta("thinking", nil)
	q := reasoning.Query{
		Text:      text,
		Assistant: o.assistant,
		User:      t.req.UserID,
		Context:   o.conversationContext(t),
		Mode:      t.req.Mode,
	}
	res, err := o.resolver.Resolve(t.st.Context(), q)
	if err != nil {
		if t.st.Context().Err() != nil {
			return o.offline(t, text)
		}
		t.fail(err)
		o.logger.Warn("Remote resolution failed, falling back offline",
			"user_id", t.req.UserID,
			"stream_id", t.st.ID,
			"error", err)
		return o.offline(t, text)
	}
	return res.WithProvenance(domain.ProvenanceRemote)
}

// offline is the best local effort with a relaxed bar. When nothing qualifies the
// result is a KindError apology.
func (o *Orchestrator) offline(t *turn, text string) domain.IntentResult {
	if res, ok := o.classifier.Detect(text); ok && res.Confidence >= OfflineThreshold {
		return res.WithProvenance(domain.ProvenanceOffline)
	}
	if res, ok := o.classifier.DetectPartial(text); ok && res.Confidence >= OfflineThreshold {
		return res.WithProvenance(domain.ProvenanceOffline)
	}
	t.fail(fmt.Errorf("offline %q: %w", text, domain.ErrClassificationMiss))
	return domain.NewIntentResult(domain.KindError, 0, text, nil, domain.ProvenanceOffline).WithReply(ApologyMessage)
}

func (o *Orchestrator) conversationContext(t *turn) domain.ConversationContext {
	if o.history == nil {
		return domain.ConversationContext{}
	}
	cc, err := o.history.GetContext(t.st.Context(), t.req.UserID, o.historyLimit)
	if err != nil {
		o.logger.Warn("failed to load conversation context", "user_id", t.req.UserID, "error", err)
		return domain.ConversationContext{}
	}
	return cc
}

// respond gates res behind confirmation or clarification, or executes it.
func (o *Orchestrator) respond(t *turn, res domain.IntentResult) Answer {
	o.tracker.Mark(t.trace, latency.CheckpointIntentResolved)

	if res.Kind == domain.KindError {
		return Answer{Intent: res, Text: res.Reply}
	}
	if dialog.NeedsConfirmation(res) {
		p := o.dialogs.RequestConfirmation(t.key, res)
		_ = t.st.Notice(stream.EventConfirmationRequest, p.Prompt, map[string]any{
			"intent":     res.Kind.String(),
			"slots":      res.Slots,
			"timeout_ms": p.Timeout.Milliseconds(),
		})
		return Answer{Intent: res, Text: p.Prompt}
	}
	if dialog.NeedsClarification(res) {
		q := o.dialogs.StartDisambiguation(t.key, t.req.Text, res)
		return o.clarify(t, res, q)
	}
	return o.execute(t, res)
}

func (o *Orchestrator) clarify(t *turn, res domain.IntentResult, q dialog.Question) Answer {
	t.clarif = true
	_ = t.st.Notice(stream.EventClarification, q.Text, q)
	return Answer{Intent: res, Text: q.Text}
}

// deliver streams the answer, ends the stream and records the exchange.
func (o *Orchestrator) deliver(t *turn, ans Answer) (Result, error) {
	out := Result{StreamID: t.st.ID, Intent: ans.Intent, Text: ans.Text}
	defer func() { o.record(t, ans) }()

	if t.st.Context().Err() != nil {
		out.State = o.dialogs.State(t.key)
		return out, interrupted(t.st)
	}

	o.tracker.Mark(t.trace, latency.CheckpointGenerationStarted)
	if err := t.st.Text(ans.Text); err != nil {
		out.State = o.dialogs.State(t.key)
		if t.st.Context().Err() != nil {
			return out, interrupted(t.st)
		}
		return out, err
	}
	if err := t.st.End(t.st.Elapsed()); err != nil {
		out.State = o.dialogs.State(t.key)
		return out, err
	}
	o.tracker.Mark(t.trace, latency.CheckpointComplete)

	o.remember(t, ans)
	if o.cache != nil && ans.Intent.Provenance != domain.ProvenanceCache && !t.clarif && !t.dialog &&
		!dialog.NeedsConfirmation(ans.Intent) && cache.ShouldCache(t.req.Text, ans.Intent.Kind) {
		o.cache.Set(t.req.Text, ans, t.req.UserID)
	}
	out.State = o.dialogs.State(t.key)
	return out, nil
}

// interrupted describes why a stream stopped before its answer was delivered.
func interrupted(st *stream.Stream) error {
	cause := context.Cause(st.Context())
	switch {
	case errors.Is(cause, stream.ErrSuperseded):
		return fmt.Errorf("request superseded: %w", cause)
	case errors.Is(cause, stream.ErrCancelled):
		return fmt.Errorf("request cancelled: %w", cause)
	default:
		return fmt.Errorf("caller went away: %w", cause)
	}
}

// remember appends the exchange and the intent's slots to the conversation store.
func (o *Orchestrator) remember(t *turn, ans Answer) {
	if o.history == nil {
		return
	}
	// The stream's context is already cancelled once it ended.
	ctx := context.WithoutCancel(t.st.Context())
	if err := o.history.AddMessage(ctx, t.req.UserID, domain.RoleUser, t.req.Text); err != nil {
		o.logger.Warn("failed to append user message", "user_id", t.req.UserID, "error", err)
		return
	}
	if err := o.history.AddMessage(ctx, t.req.UserID, domain.RoleAssistant, ans.Text); err != nil {
		o.logger.Warn("failed to append assistant message", "user_id", t.req.UserID, "error", err)
		return
	}
	if len(ans.Intent.Slots) > 0 {
		if err := o.history.UpdateContext(ctx, t.req.UserID, ans.Intent.Slots); err != nil {
			o.logger.Warn("failed to update conversation entities", "user_id", t.req.UserID, "error", err)
		}
	}
}

func (o *Orchestrator) record(t *turn, ans Answer) {
	report := o.tracker.Finish(t.trace)
	if !report.Passed {
		o.logger.Info("Latency budget exceeded",
			"user_id", t.req.UserID,
			"stream_id", t.st.ID,
			"violations", report.Descriptions())
	}
	o.recorder.Record(latency.Record{
		Timestamp:          o.now(),
		UserID:             t.req.UserID,
		Transcript:         t.req.Text,
		Intent:             ans.Intent.Kind,
		Confidence:         ans.Intent.Confidence,
		Provenance:         ans.Intent.Provenance,
		LatenciesMs:        latency.Milliseconds(report.Intervals),
		Errors:             t.errs,
		Violations:         report.Descriptions(),
		NeedsClarification: t.clarif,
	})
}

// pick returns a random phrase from options.
func (o *Orchestrator) pick(options []string) string {
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return options[o.rand.IntN(len(options))]
}
