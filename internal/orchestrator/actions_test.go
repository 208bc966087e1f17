package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voxcore/internal/domain"
)

func TestAcknowledge(t *testing.T) {
	t.Parallel()

	res := domain.NewIntentResult(domain.KindSendMoney, 0.95, "send 20 dollars to alice",
		map[string]string{"amount": "20", "currency": "dollars", "payee": "alice"}, domain.ProvenanceFast)
	text, err := Acknowledge.Execute(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, "Okay, send money of 20 dollars to alice.", text)

	text, err = Acknowledge.Execute(context.Background(),
		domain.NewIntentResult(domain.KindOpenApp, 0.9, "open spotify", map[string]string{"app": "spotify"}, domain.ProvenanceFast))
	require.NoError(t, err)
	assert.Equal(t, "Okay, open app using spotify.", text)

	for _, kind := range []domain.IntentKind{domain.KindWeather, domain.KindJoke, domain.KindCheckBalance, domain.KindListNotes} {
		_, err := Acknowledge.Execute(context.Background(), domain.NewIntentResult(kind, 0.9, "", nil, domain.ProvenanceFast))
		assert.ErrorIs(t, err, ErrNotHandled, kind.String())
	}
}
