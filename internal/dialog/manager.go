// Package dialog tracks the per-session confirmation and disambiguation dialogs that
// gate execution of resolved intents.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/voxcore/internal/domain"
)

// Timing and thresholds.
const (
	DefaultConfirmTimeout = 30 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultSweepInterval  = 30 * time.Second

	// ClarifyThreshold is the confidence below which an intent needs clarification.
	ClarifyThreshold = 0.55
	// RepeatThreshold is the confidence below which the user is asked to repeat.
	RepeatThreshold = 0.3
	// MaxAttempts is the number of unresolved clarification replies before giving up.
	MaxAttempts = 3
)

// Outcome is the result of a reply to a pending confirmation.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeExpired   Outcome = "expired"
	OutcomeUnclear   Outcome = "unclear"
)

// Action is the resolution of a reply to a pending disambiguation.
type Action string

const (
	ActionReprocess Action = "reprocess"
	ActionExecute   Action = "execute"
	ActionCancel    Action = "cancel"
	ActionRetry     Action = "retry"
	ActionGiveUp    Action = "giveup"
)

// QuestionKind selects how a clarification is phrased.
type QuestionKind string

const (
	QuestionRepeat  QuestionKind = "repeat"
	QuestionChoice  QuestionKind = "choice"
	QuestionConfirm QuestionKind = "confirm"
)

// Question is a clarification put to the user.
type Question struct {
	Kind    QuestionKind        `json:"kind"`
	Text    string              `json:"text"`
	Options []domain.IntentKind `json:"options,omitempty"`
}

// PendingConfirmation is a sensitive intent waiting for an explicit yes or no.
type PendingConfirmation struct {
	SessionID   string
	Intent      domain.IntentResult
	Prompt      string
	RequestedAt time.Time
	Timeout     time.Duration
}

// Expired reports whether the confirmation window has closed at now.
func (p PendingConfirmation) Expired(now time.Time) bool {
	return now.Sub(p.RequestedAt) > p.Timeout
}

// PendingDisambiguation is an unclear intent waiting for a clarifying reply.
type PendingDisambiguation struct {
	SessionID     string
	Question      Question
	Intent        domain.IntentResult
	OriginalInput string
	Attempts      int
	LastActivity  time.Time
}

// Reply is the outcome of routing one user reply through a session's dialogs.
type Reply struct {
	// Handled is false when the session had no pending dialog.
	Handled bool
	// Confirmation is set when a confirmation was pending.
	Confirmation Outcome
	// Action is set when a disambiguation was pending.
	Action Action
	// Intent is the intent to execute for OutcomeConfirmed and ActionExecute.
	Intent domain.IntentResult
	// Text is the reply to resolve again for ActionReprocess.
	Text string
	// Prompt is what to say back for unclear and retry replies.
	Prompt string
	// Err is domain.ErrConfirmationExpired or domain.ErrDisambiguationExhausted.
	Err error
}

// Manager holds dialog state for all sessions. It is safe for concurrent use.
type Manager struct {
	mu              sync.Mutex
	confirmations   map[string]*PendingConfirmation
	disambiguations map[string]*PendingDisambiguation

	confirmTimeout time.Duration
	idleTimeout    time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTimeouts overrides the confirmation window and the disambiguation idle limit.
func WithTimeouts(confirm, idle time.Duration) Option {
	return func(m *Manager) {
		if confirm > 0 {
			m.confirmTimeout = confirm
		}
		if idle > 0 {
			m.idleTimeout = idle
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an empty dialog manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		confirmations:   make(map[string]*PendingConfirmation),
		disambiguations: make(map[string]*PendingDisambiguation),
		confirmTimeout:  DefaultConfirmTimeout,
		idleTimeout:     DefaultIdleTimeout,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NeedsConfirmation reports whether res must be confirmed before it is executed.
func NeedsConfirmation(res domain.IntentResult) bool {
	return res.Kind.Sensitive()
}

// NeedsClarification reports whether res is too uncertain to act on.
func NeedsClarification(res domain.IntentResult) bool {
	return res.Confidence < ClarifyThreshold
}

// State returns the dialog state of a session. An expired confirmation no longer
// awaits a reply.
func (m *Manager) State(sessionID string) domain.DialogState {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.confirmations[sessionID] != nil && !m.confirmations[sessionID].Expired(now):
		return domain.StateAwaitingConfirmation
	case m.disambiguations[sessionID] != nil:
		return domain.StateAwaitingClarification
	default:
		return domain.StateIdle
	}
}

// RequestConfirmation records res as awaiting confirmation, replacing any earlier
// confirmation and discarding any disambiguation for the session.
func (m *Manager) RequestConfirmation(sessionID string, res domain.IntentResult) PendingConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.confirmations[sessionID]; old != nil {
		m.logger.Info("Replacing pending confirmation",
			"session_id", sessionID,
			"previous", old.Intent.Kind.String(),
			"next", res.Kind.String())
	}
	delete(m.disambiguations, sessionID)

	p := &PendingConfirmation{
		SessionID:   sessionID,
		Intent:      res,
		Prompt:      fmt.Sprintf("You asked me to %s. Should I go ahead? Say yes to confirm or no to cancel.", Describe(res)),
		RequestedAt: m.now(),
		Timeout:     m.confirmTimeout,
	}
	m.confirmations[sessionID] = p
	return *p
}

// StartDisambiguation records res as awaiting clarification and returns the question to
// ask. Any pending confirmation for the session is discarded.
func (m *Manager) StartDisambiguation(sessionID, input string, res domain.IntentResult) Question {
	q := BuildQuestion(res)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.confirmations, sessionID)
	m.disambiguations[sessionID] = &PendingDisambiguation{
		SessionID:     sessionID,
		Question:      q,
		Intent:        res,
		OriginalInput: input,
		LastActivity:  m.now(),
	}
	return q
}

// Reask replaces the question of a pending disambiguation after a reprocessed reply was
// still unclear. The attempt count carries over; once it reaches MaxAttempts the
// dialog is cleared and ok is false.
func (m *Manager) Reask(sessionID string, res domain.IntentResult) (q Question, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.disambiguations[sessionID]
	if p == nil {
		p = &PendingDisambiguation{SessionID: sessionID, OriginalInput: res.SourceText}
		m.disambiguations[sessionID] = p
	}
	delete(m.confirmations, sessionID)

	p.Attempts++
	if p.Attempts >= MaxAttempts {
		delete(m.disambiguations, sessionID)
		return Question{}, false
	}
	p.Question = BuildQuestion(res)
	p.Intent = res
	p.LastActivity = m.now()
	return p.Question, true
}

// PendingConfirmation returns the live confirmation for a session.
func (m *Manager) PendingConfirmation(sessionID string) (PendingConfirmation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.confirmations[sessionID]
	if p == nil {
		return PendingConfirmation{}, false
	}
	return *p, true
}

// PendingDisambiguation returns the live disambiguation for a session.
func (m *Manager) PendingDisambiguation(sessionID string) (PendingDisambiguation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.disambiguations[sessionID]
	if p == nil {
		return PendingDisambiguation{}, false
	}
	return *p, true
}

// Clear drops all dialog state for a session.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.confirmations, sessionID)
	delete(m.disambiguations, sessionID)
}

// HandleReply routes a reply to the session's pending confirmation first, then to its
// pending disambiguation.
func (m *Manager) HandleReply(sessionID, text string) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p := m.confirmations[sessionID]; p != nil {
		return m.resolveConfirmation(sessionID, p, text)
	}
	if p := m.disambiguations[sessionID]; p != nil {
		return m.resolveDisambiguation(sessionID, p, text)
	}
	return Reply{}
}

func (m *Manager) resolveConfirmation(sessionID string, p *PendingConfirmation, text string) Reply {
	out := Reply{Handled: true, Intent: p.Intent}
	reply := normalizeReply(text)

	switch {
	case p.Expired(m.now()):
		delete(m.confirmations, sessionID)
		out.Confirmation = OutcomeExpired
		out.Err = fmt.Errorf("session %s: %w", sessionID, domain.ErrConfirmationExpired)
	case isCancel(reply):
		delete(m.confirmations, sessionID)
		out.Confirmation = OutcomeCancelled
	case isConfirm(reply):
		delete(m.confirmations, sessionID)
		out.Confirmation = OutcomeConfirmed
	default:
		out.Confirmation = OutcomeUnclear
		out.Prompt = "Please say yes to confirm or no to cancel."
	}
	m.logger.Debug("Confirmation reply", "session_id", sessionID, "outcome", string(out.Confirmation))
	return out
}

func (m *Manager) resolveDisambiguation(sessionID string, p *PendingDisambiguation, text string) Reply {
	reply := normalizeReply(text)
	p.LastActivity = m.now()

	if isCancel(reply) {
		delete(m.disambiguations, sessionID)
		return Reply{Handled: true, Action: ActionCancel}
	}

	switch p.Question.Kind {
	case QuestionRepeat:
		if reply != "" {
			return Reply{Handled: true, Action: ActionReprocess, Text: text}
		}
	case QuestionChoice:
		if kind, ok := pickOption(reply, p.Question.Options); ok {
			delete(m.disambiguations, sessionID)
			return Reply{Handled: true, Action: ActionExecute, Intent: chosen(p.Intent, kind)}
		}
	case QuestionConfirm:
		if isConfirm(reply) {
			delete(m.disambiguations, sessionID)
			return Reply{Handled: true, Action: ActionExecute, Intent: chosen(p.Intent, p.Intent.Kind)}
		}
		if len(strings.Fields(reply)) >= 3 {
			return Reply{Handled: true, Action: ActionReprocess, Text: text}
		}
	}

	p.Attempts++
	if p.Attempts >= MaxAttempts {
		delete(m.disambiguations, sessionID)
		return Reply{
			Handled: true,
			Action:  ActionGiveUp,
			Prompt:  GiveUpMessage,
			Err:     fmt.Errorf("session %s: %w", sessionID, domain.ErrDisambiguationExhausted),
		}
	}
	return Reply{Handled: true, Action: ActionRetry, Prompt: p.Question.Text}
}

// GiveUpMessage is said when clarification attempts are exhausted.
const GiveUpMessage = "I'm having trouble understanding. Let's start over."

// Sweep drops idle disambiguations and expired confirmations. An expired confirmation
// is kept for one more idle timeout so a late reply is still told it timed out. It
// returns the number of dialogs removed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, p := range m.disambiguations {
		if now.Sub(p.LastActivity) > m.idleTimeout {
			delete(m.disambiguations, id)
			removed++
		}
	}
	for id, p := range m.confirmations {
		if p.Expired(now.Add(-m.idleTimeout)) {
			delete(m.confirmations, id)
			removed++
		}
	}
	return removed
}

// SweepFunc adapts Sweep to the background worker signature.
func (m *Manager) SweepFunc(context.Context) {
	if n := m.Sweep(); n > 0 {
		m.logger.Debug("Dialog sweep removed stale dialogs", "count", n)
	}
}

// BuildQuestion phrases the clarification for an uncertain intent.
func BuildQuestion(res domain.IntentResult) Question {
	switch {
	case res.Confidence < RepeatThreshold:
		return Question{Kind: QuestionRepeat, Text: "Sorry, I didn't catch that. Could you say it again?"}
	case res.HasAlternatives():
		alt := res.Alternatives[0]
		return Question{
			Kind:    QuestionChoice,
			Text:    fmt.Sprintf("Did you mean %s or %s?", Label(res.Kind), Label(alt)),
			Options: []domain.IntentKind{res.Kind, alt},
		}
	default:
		return Question{
			Kind:    QuestionConfirm,
			Text:    fmt.Sprintf("Did you mean %s?", Label(res.Kind)),
			Options: []domain.IntentKind{res.Kind},
		}
	}
}

// Label is the spoken name of an intent kind.
func Label(k domain.IntentKind) string {
	return strings.ReplaceAll(k.String(), "_", " ")
}

// Describe summarises an intent and its main slots for a confirmation prompt.
func Describe(res domain.IntentResult) string {
	var b strings.Builder
	b.WriteString(Label(res.Kind))
	if amt := res.Slot("amount"); amt != "" {
		b.WriteString(" of " + amt)
		if cur := res.Slot("currency"); cur != "" {
			b.WriteString(" " + cur)
		}
	}
	for _, key := range []string{"payee", "contact"} {
		if v := res.Slot(key); v != "" {
			b.WriteString(" to " + v)
			break
		}
	}
	if app := res.Slot("app"); app != "" {
		b.WriteString(" using " + app)
	}
	return b.String()
}

func pickOption(reply string, options []domain.IntentKind) (domain.IntentKind, bool) {
	if len(options) != 2 {
		return domain.KindGeneral, false
	}
	switch {
	case matchesAny(reply, firstOption):
		return options[0], true
	case matchesAny(reply, secondOption):
		return options[1], true
	}

	words := strings.Fields(reply)
	var hits []domain.IntentKind
	for i, opt := range options {
		other := options[1-i]
		if strings.Contains(reply, Label(opt)) || containsDistinctWord(words, opt, other) {
			hits = append(hits, opt)
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}
	return domain.KindGeneral, false
}

// containsDistinctWord reports whether words contains a word of opt's label that does
// not also appear in other's label.
func containsDistinctWord(words []string, opt, other domain.IntentKind) bool {
	otherWords := strings.Fields(Label(other))
	for _, w := range strings.Fields(Label(opt)) {
		if len(w) < 3 || slices.Contains(otherWords, w) {
			continue
		}
		if slices.Contains(words, w) {
			return true
		}
	}
	return false
}

func chosen(res domain.IntentResult, kind domain.IntentKind) domain.IntentResult {
	out := domain.NewIntentResult(kind, 1, res.SourceText, res.Slots, res.Provenance)
	return out.WithReply(res.Reply)
}
