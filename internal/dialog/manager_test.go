package dialog

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voxcore/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestManager() (*Manager, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(WithClock(clk.Now)), clk
}

func payment() domain.IntentResult {
	return domain.NewIntentResult(domain.KindMakePayment, 0.95, "pay 500 rupees using phonepe",
		map[string]string{"amount": "500", "currency": "INR", "app": "phonepe"}, domain.ProvenanceFast)
}

func TestConfirmWithinWindow(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager()

	require.True(t, NeedsConfirmation(payment()))
	p := m.RequestConfirmation("s1", payment())
	assert.Contains(t, p.Prompt, "make payment of 500 INR using phonepe")
	assert.Equal(t, domain.StateAwaitingConfirmation, m.State("s1"))

	clk.Advance(10 * time.Second)
	r := m.HandleReply("s1", "yes confirm")
	require.True(t, r.Handled)
	assert.Equal(t, OutcomeConfirmed, r.Confirmation)
	assert.Equal(t, domain.KindMakePayment, r.Intent.Kind)
	assert.NoError(t, r.Err)
	assert.Equal(t, domain.StateIdle, m.State("s1"))
}

func TestConfirmAfterTimeoutExpires(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager()

	m.RequestConfirmation("s1", payment())
	clk.Advance(31 * time.Second)

	r := m.HandleReply("s1", "yes confirm")
	assert.Equal(t, OutcomeExpired, r.Confirmation)
	assert.True(t, errors.Is(r.Err, domain.ErrConfirmationExpired))
	assert.Equal(t, domain.StateIdle, m.State("s1"))
}

func TestConfirmationReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply string
		want  Outcome
	}{
		{"Yes!", OutcomeConfirmed},
		{"go ahead please", OutcomeConfirmed},
		{"no", OutcomeCancelled},
		{"No, confirm", OutcomeCancelled},
		{"never mind", OutcomeCancelled},
		{"maybe later", OutcomeUnclear},
		{"yesterday", OutcomeUnclear},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			m, _ := newTestManager()
			m.RequestConfirmation("s", payment())
			r := m.HandleReply("s", tt.reply)
			assert.Equal(t, tt.want, r.Confirmation)
			if tt.want == OutcomeUnclear {
				assert.Equal(t, domain.StateAwaitingConfirmation, m.State("s"))
				assert.NotEmpty(t, r.Prompt)
			}
		})
	}
}

func TestNewSensitiveRequestReplacesPending(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	m.RequestConfirmation("s1", payment())
	call := domain.NewIntentResult(domain.KindMakeCall, 0.9, "call mom", map[string]string{"contact": "mom"}, domain.ProvenanceFast)
	m.RequestConfirmation("s1", call)

	p, ok := m.PendingConfirmation("s1")
	require.True(t, ok)
	assert.Equal(t, domain.KindMakeCall, p.Intent.Kind)
	assert.Len(t, m.confirmations, 1)
}

func TestDialogsAreMutuallyExclusive(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()
	unclear := domain.NewIntentResult(domain.KindWeather, 0.4, "weathr", nil, domain.ProvenanceRemote)

	m.StartDisambiguation("s1", "weathr", unclear)
	m.RequestConfirmation("s1", payment())
	_, ok := m.PendingDisambiguation("s1")
	assert.False(t, ok)
	assert.Equal(t, domain.StateAwaitingConfirmation, m.State("s1"))

	m.StartDisambiguation("s1", "weathr", unclear)
	_, ok = m.PendingConfirmation("s1")
	assert.False(t, ok)
	assert.Equal(t, domain.StateAwaitingClarification, m.State("s1"))
}

func TestDialogsExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()
	unclear := domain.NewIntentResult(domain.KindNews, 0.4, "nws", nil, domain.ProvenanceRemote)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				if (i+j)%2 == 0 {
					m.RequestConfirmation("shared", payment())
				} else {
					m.StartDisambiguation("shared", "nws", unclear)
				}
				m.mu.Lock()
				both := m.confirmations["shared"] != nil && m.disambiguations["shared"] != nil
				m.mu.Unlock()
				assert.False(t, both)
			}
		}()
	}
	wg.Wait()
}

func TestChoiceQuestionAndGiveUp(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	res := domain.NewIntentResult(domain.KindWeather, 0.4, "what about the weather news", nil, domain.ProvenanceRemote).
		WithAlternatives(domain.KindNews)
	require.True(t, NeedsClarification(res))

	q := m.StartDisambiguation("s1", res.SourceText, res)
	assert.Equal(t, QuestionChoice, q.Kind)
	assert.Equal(t, []domain.IntentKind{domain.KindWeather, domain.KindNews}, q.Options)
	assert.Equal(t, "Did you mean weather or news?", q.Text)

	r := m.HandleReply("s1", "hmm")
	assert.Equal(t, ActionRetry, r.Action)
	r = m.HandleReply("s1", "banana")
	assert.Equal(t, ActionRetry, r.Action)
	r = m.HandleReply("s1", "what")
	assert.Equal(t, ActionGiveUp, r.Action)
	assert.True(t, errors.Is(r.Err, domain.ErrDisambiguationExhausted))
	assert.Equal(t, GiveUpMessage, r.Prompt)
	assert.Equal(t, domain.StateIdle, m.State("s1"))
}

func TestChoiceResolution(t *testing.T) {
	t.Parallel()

	res := domain.NewIntentResult(domain.KindSetTimer, 0.45, "set one for ten", nil, domain.ProvenanceRemote).
		WithAlternatives(domain.KindSetAlarm)

	tests := []struct {
		reply string
		want  domain.IntentKind
	}{
		{"the first one", domain.KindSetTimer},
		{"second", domain.KindSetAlarm},
		{"an alarm please", domain.KindSetAlarm},
		{"timer", domain.KindSetTimer},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			m, _ := newTestManager()
			m.StartDisambiguation("s", res.SourceText, res)
			r := m.HandleReply("s", tt.reply)
			require.Equal(t, ActionExecute, r.Action)
			assert.Equal(t, tt.want, r.Intent.Kind)
			assert.Equal(t, 1.0, r.Intent.Confidence)
			assert.Equal(t, domain.StateIdle, m.State("s"))
		})
	}
}

func TestRepeatQuestionReprocesses(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	res := domain.NewIntentResult(domain.KindGeneral, 0.2, "mmph", nil, domain.ProvenanceRemote)
	q := m.StartDisambiguation("s1", "mmph", res)
	assert.Equal(t, QuestionRepeat, q.Kind)
	assert.Empty(t, q.Options)

	r := m.HandleReply("s1", "what's the weather")
	assert.Equal(t, ActionReprocess, r.Action)
	assert.Equal(t, "what's the weather", r.Text)
	assert.Equal(t, domain.StateAwaitingClarification, m.State("s1"))
}

func TestConfirmQuestion(t *testing.T) {
	t.Parallel()
	res := domain.NewIntentResult(domain.KindPlayMusic, 0.45, "ply sum musc", nil, domain.ProvenanceRemote)

	m, _ := newTestManager()
	q := m.StartDisambiguation("s1", res.SourceText, res)
	assert.Equal(t, QuestionConfirm, q.Kind)
	assert.Equal(t, "Did you mean play music?", q.Text)
	r := m.HandleReply("s1", "yeah")
	assert.Equal(t, ActionExecute, r.Action)
	assert.Equal(t, domain.KindPlayMusic, r.Intent.Kind)

	m.StartDisambiguation("s1", res.SourceText, res)
	r = m.HandleReply("s1", "nope")
	assert.Equal(t, ActionCancel, r.Action)
	assert.Equal(t, domain.StateIdle, m.State("s1"))

	m.StartDisambiguation("s1", res.SourceText, res)
	r = m.HandleReply("s1", "open the calculator app")
	assert.Equal(t, ActionReprocess, r.Action)
}

func TestReaskKeepsAttempts(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()
	res := domain.NewIntentResult(domain.KindGeneral, 0.1, "zzz", nil, domain.ProvenanceRemote)

	m.StartDisambiguation("s1", "zzz", res)
	_, ok := m.Reask("s1", res)
	require.True(t, ok)
	_, ok = m.Reask("s1", res)
	require.True(t, ok)
	p, _ := m.PendingDisambiguation("s1")
	assert.Equal(t, 2, p.Attempts)

	_, ok = m.Reask("s1", res)
	assert.False(t, ok)
	assert.Equal(t, domain.StateIdle, m.State("s1"))
}

func TestSweepRemovesStaleDialogs(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager()
	unclear := domain.NewIntentResult(domain.KindNews, 0.4, "nws", nil, domain.ProvenanceRemote)

	m.StartDisambiguation("idle", "nws", unclear)
	m.RequestConfirmation("pay", payment())
	clk.Advance(45 * time.Second)
	m.StartDisambiguation("fresh", "nws", unclear)

	assert.Zero(t, m.Sweep(), "an expired confirmation outlives its timeout by one idle window")
	assert.Equal(t, domain.StateIdle, m.State("pay"))
	clk.Advance(20 * time.Second)
	assert.Equal(t, 1, m.Sweep(), "idle disambiguation past 60s")
	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, m.Sweep(), "expired confirmation past its idle window")

	assert.Equal(t, domain.StateIdle, m.State("idle"))
	assert.Equal(t, domain.StateIdle, m.State("pay"))
	assert.Equal(t, domain.StateAwaitingClarification, m.State("fresh"))
	assert.False(t, m.HandleReply("pay", "yes").Handled)
}

func TestLateConfirmationAfterSweep(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager()

	m.RequestConfirmation("s1", payment())
	clk.Advance(31 * time.Second)
	assert.Zero(t, m.Sweep())

	r := m.HandleReply("s1", "yes")
	assert.True(t, r.Handled)
	assert.Equal(t, OutcomeExpired, r.Confirmation)
	assert.ErrorIs(t, r.Err, domain.ErrConfirmationExpired)
	assert.Equal(t, domain.StateIdle, m.State("s1"))
}

func TestHandleReplyWithoutDialog(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()
	assert.False(t, m.HandleReply("nobody", "yes").Handled)
}
