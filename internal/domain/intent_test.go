package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentKindTable(t *testing.T) {
	t.Parallel()

	all := AllIntentKinds()
	require.Len(t, all, int(kindCount))
	seen := make(map[string]bool)
	for _, k := range all {
		name := k.String()
		assert.NotEmpty(t, name, "kind %d has no name", int(k))
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
		assert.NotEmpty(t, k.Category(), name)

		parsed, ok := ParseIntentKind(name)
		assert.True(t, ok, name)
		assert.Equal(t, k, parsed)
	}
}

func TestParseUnknownKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseIntentKind("teleport")
	assert.False(t, ok)
	assert.Equal(t, KindGeneral, k)

	var decoded struct {
		Kind IntentKind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"teleport"}`), &decoded))
	assert.Equal(t, KindGeneral, decoded.Kind)
}

func TestSensitiveAndVolatileKinds(t *testing.T) {
	t.Parallel()

	for _, k := range []IntentKind{KindMakePayment, KindSendMoney, KindSendMessage, KindSendEmail, KindMakeCall, KindUnlockDoor, KindLightsOn} {
		assert.True(t, k.Sensitive(), k.String())
	}
	for _, k := range []IntentKind{KindTimeQuery, KindGreeting, KindWeather, KindCalculate} {
		assert.False(t, k.Sensitive(), k.String())
	}
	for _, k := range []IntentKind{KindTimeQuery, KindDateQuery, KindWeather, KindNews, KindUnreadEmailCount} {
		assert.True(t, k.TimeSensitive(), k.String())
	}
	assert.False(t, KindJoke.TimeSensitive())
	assert.False(t, IntentKind(-1).Sensitive())
	assert.Equal(t, CategoryGeneral, IntentKind(999).Category())
}

func TestIntentResultJSON(t *testing.T) {
	t.Parallel()

	res := NewIntentResult(KindOpenApp, 0.95, "open calc", map[string]string{"app": "calculator"}, ProvenanceFast).
		WithAlternatives(KindCloseApp)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"open_app","confidence":0.95,"source_text":"open calc",
		"slots":{"app":"calculator"},"provenance":"fast","alternatives":["close_app"]}`, string(b))
}

func TestNewIntentResultCopiesAndClamps(t *testing.T) {
	t.Parallel()

	slots := map[string]string{"app": "calc"}
	res := NewIntentResult(KindOpenApp, 1.7, "open calc", slots, ProvenanceFast)
	slots["app"] = "mutated"

	assert.Equal(t, "calc", res.Slot("app"))
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, 0.0, ClampConfidence(-2))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))

	derived := res.WithProvenance(ProvenanceOffline)
	derived.Slots["app"] = "other"
	assert.Equal(t, ProvenanceFast, res.Provenance)
	assert.Equal(t, "calc", res.Slot("app"))
	assert.False(t, res.HasAlternatives())
}

func TestSessionKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "u1:s1", SessionKey("u1", "s1"))
	assert.NotEqual(t, SessionKey("u1", "s1"), SessionKey("u1", "s2"))
}
