package intent

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voxcore/internal/domain"
)

func TestDetectTimeQuery(t *testing.T) {
	t.Parallel()
	c := New()

	for _, in := range []string{"what's the time", "What's the time?", "  what’s   the TIME  "} {
		res, ok := c.Detect(in)
		require.True(t, ok, in)
		assert.Equal(t, domain.KindTimeQuery, res.Kind, in)
		assert.Equal(t, ConfidenceDynamic, res.Confidence, in)
		assert.Equal(t, domain.ProvenanceFast, res.Provenance, in)
		assert.Empty(t, res.Alternatives, in)
		assert.Equal(t, in, res.SourceText)
	}
}

func TestDetectPaymentExtractsSlots(t *testing.T) {
	t.Parallel()
	c := New()

	res, ok := c.Detect("pay 500 rupees using phonepe")
	require.True(t, ok)
	assert.Equal(t, domain.KindMakePayment, res.Kind)
	assert.Equal(t, ConfidenceDynamic, res.Confidence)
	assert.Equal(t, "500", res.Slot("amount"))
	assert.Equal(t, "INR", res.Slot("currency"))
	assert.Equal(t, "phonepe", res.Slot("app"))
	assert.True(t, res.Kind.Sensitive())
	assert.Empty(t, res.Alternatives)
}

func TestDetectPatternRules(t *testing.T) {
	t.Parallel()
	c := New()

	tests := []struct {
		in    string
		kind  domain.IntentKind
		conf  float64
		slots map[string]string
	}{
		{"open calc", domain.KindOpenApp, ConfidenceDynamic, map[string]string{"app": "calculator"}},
		{"launch the spotify app", domain.KindOpenApp, ConfidenceDynamic, map[string]string{"app": "spotify"}},
		{"turn on the lights", domain.KindLightsOn, ConfidencePattern, nil},
		{"send a message to alice saying running late", domain.KindSendMessage, ConfidencePattern,
			map[string]string{"contact": "alice", "body": "running late"}},
		{"what's the weather in paris", domain.KindWeather, ConfidencePattern, map[string]string{"city": "paris"}},
		{"set a timer for 10 minutes", domain.KindSetTimer, ConfidencePattern, map[string]string{"duration": "10 minutes"}},
		{"pay my electricity bill", domain.KindPayBill, ConfidencePattern, map[string]string{"biller": "electricity"}},
		{"transfer $20 to bob", domain.KindSendMoney, ConfidenceDynamic,
			map[string]string{"amount": "20", "currency": "USD", "payee": "bob"}},
		{"hello there", domain.KindGreeting, ConfidencePattern, nil},
		{"unlock the front door", domain.KindUnlockDoor, ConfidencePattern, nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res, ok := c.Detect(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.conf, res.Confidence)
			for k, v := range tt.slots {
				assert.Equal(t, v, res.Slot(k), "slot %s", k)
			}
		})
	}
}

func TestDetectArithmetic(t *testing.T) {
	t.Parallel()
	c := New()

	tests := map[string]string{
		"what is 2 + 3 * 4":        "14",
		"(1 + 2) * -3":             "-9",
		"0.1 + 0.2":                "0.3",
		"calculate 7 divided by 2": "3.5",
	}
	for in, want := range tests {
		res, ok := c.Detect(in)
		require.True(t, ok, in)
		assert.Equal(t, domain.KindCalculate, res.Kind, in)
		assert.Equal(t, want, res.Slot("result"), in)
		assert.Equal(t, ConfidenceDynamic, res.Confidence, in)
	}
}

func TestDetectMiss(t *testing.T) {
	t.Parallel()
	c := New()

	for _, in := range []string{"", "   ", "blorf the zarquon", "10 / 0", "42"} {
		_, ok := c.Detect(in)
		assert.False(t, ok, "%q should not match", in)
	}
}

func TestDetectReportsAlternatives(t *testing.T) {
	t.Parallel()
	c := New()

	res, ok := c.Detect("play music and tell me a joke")
	require.True(t, ok)
	assert.Equal(t, domain.KindPlayMusic, res.Kind)
	assert.Equal(t, []domain.IntentKind{domain.KindJoke}, res.Alternatives)
}

func TestDetectConfidenceBounded(t *testing.T) {
	t.Parallel()
	c := New()

	inputs := []string{
		"what's the time", "1+1", "((2))*3", "-", "()", "pay", "pay 0 rs to x",
		"open", "open the", "remind me", "weather", "…", "🙂", "what is a", "call",
		"turn off my computer", "set it to 72 degrees", "translate hola to english",
	}
	for _, in := range inputs {
		res, ok := c.Detect(in)
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, res.Confidence, 0.0, in)
		assert.LessOrEqual(t, res.Confidence, 1.0, in)
		assert.True(t, res.Kind.Valid(), in)
	}
}

func TestDetectPartialLongestPrefixWins(t *testing.T) {
	t.Parallel()
	c := New()

	res, ok := c.DetectPartial("what's the wea")
	require.True(t, ok)
	assert.Equal(t, domain.KindTimeQuery, res.Kind)
	assert.Equal(t, domain.ProvenancePartial, res.Provenance)
	assert.Equal(t, []domain.IntentKind{domain.KindDateQuery, domain.KindWeather}, res.Alternatives)
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)

	res, ok = c.DetectPartial("what's the weather in")
	require.True(t, ok)
	assert.Equal(t, domain.KindWeather, res.Kind)
	assert.Empty(t, res.Alternatives)

	res, ok = c.DetectPartial("pay my")
	require.True(t, ok)
	assert.Equal(t, domain.KindPayBill, res.Kind)
	assert.Equal(t, []domain.IntentKind{domain.KindMakePayment}, res.Alternatives)
}

func TestDetectPartialRequiresWordBoundary(t *testing.T) {
	t.Parallel()
	c := New()

	_, ok := c.DetectPartial("hip")
	assert.False(t, ok)
	_, ok = c.DetectPartial("")
	assert.False(t, ok)

	res, ok := c.DetectPartial("hi")
	require.True(t, ok)
	assert.Equal(t, domain.KindGreeting, res.Kind)
}

func TestDetectPartialLatency(t *testing.T) {
	t.Parallel()
	c := New()

	corpus := []string{
		"what's the", "what's the wea", "open sp", "pay my", "set a", "send", "turn on the",
		"remind me to", "tell me a", "navigate to the", "unknown words here", "lock",
	}
	var durations []time.Duration
	for range 50 {
		for _, in := range corpus {
			start := time.Now()
			c.DetectPartial(in)
			durations = append(durations, time.Since(start))
		}
	}
	slices.Sort(durations)
	p95 := durations[len(durations)*95/100]
	assert.Less(t, p95, 50*time.Millisecond)
}

func TestWithAliases(t *testing.T) {
	t.Parallel()

	a, err := ParseAliases([]byte("apps:\n  term: terminal\n"))
	require.NoError(t, err)
	c := New(WithAliases(a))

	res, ok := c.Detect("open term")
	require.True(t, ok)
	assert.Equal(t, "terminal", res.Slot("app"))
}

func TestLoadAliasesMergesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apps:\n  Notes App: notes\n"), 0o600))

	a, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, "notes", a.App("notes app"))
	assert.Equal(t, "calculator", a.App("calc"))
	assert.Equal(t, "INR", a.Currency("₹"))

	_, err = LoadAliases(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
