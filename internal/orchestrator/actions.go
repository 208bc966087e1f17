package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/voxcore/internal/dialog"
	"github.com/ashureev/voxcore/internal/domain"
)

// ErrNotHandled is returned by an Executor for intents it has no integration for.
var ErrNotHandled = errors.New("intent not handled")

// Executor carries out intents that touch the outside world: apps, devices, media,
// messaging, payments, lookups. It returns the text to say back.
type Executor interface {
	Execute(ctx context.Context, res domain.IntentResult) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, res domain.IntentResult) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, res domain.IntentResult) (string, error) {
	return f(ctx, res)
}

var (
	greetingPhrases = []string{
		"Hello! How can I help?",
		"Hi there! What can I do for you?",
		"Hey! What do you need?",
	}
	farewellPhrases = []string{
		"Goodbye!",
		"See you later!",
		"Talk to you soon!",
	}
	thanksPhrases = []string{
		"You're welcome!",
		"Happy to help!",
		"Anytime!",
	}
	howAreYouPhrases = []string{
		"I'm doing great, thanks for asking!",
		"All systems running smoothly. How about you?",
	}
	cancelledPhrases = []string{
		"Okay, cancelled.",
		"Alright, I won't do that.",
		"No problem, cancelled.",
	}
)

const helpText = "You can ask me the time, do quick math, open apps, control media and devices, " +
	"send messages, make payments, set timers and reminders, or just ask a question."

// execute runs res through the handler for its category.
func (o *Orchestrator) execute(t *turn, res domain.IntentResult) Answer {
	_ = t.st.Meta("action", map[string]any{"intent": res.Kind.String(), "slots": res.Slots})

	switch res.Kind.Category() {
	case domain.CategoryTime:
		return Answer{Intent: res, Text: o.tell(res.Kind)}
	case domain.CategoryMath:
		return Answer{Intent: res, Text: calculation(res)}
	case domain.CategorySocial:
		return Answer{Intent: res, Text: o.social(res)}
	case domain.CategoryGeneral:
		return Answer{Intent: res, Text: generalReply(res)}
	case domain.CategoryError:
		return Answer{Intent: res, Text: ApologyMessage}
	case domain.CategoryApp, domain.CategorySystem, domain.CategoryDevice, domain.CategoryMedia,
		domain.CategoryInfo, domain.CategoryProductivity, domain.CategoryCommunication,
		domain.CategoryPayment, domain.CategoryNavigation:
		return Answer{Intent: res, Text: o.delegate(t, res)}
	default:
		return Answer{Intent: res, Text: generalReply(res)}
	}
}

func (o *Orchestrator) tell(kind domain.IntentKind) string {
	now := o.now()
	switch kind {
	case domain.KindDateQuery:
		return "Today is " + now.Format("Monday, January 2, 2006") + "."
	case domain.KindDayQuery:
		return "Today is " + now.Format("Monday") + "."
	default:
		return "It's " + now.Format("3:04 PM") + "."
	}
}

func calculation(res domain.IntentResult) string {
	result := res.Slot("result")
	if result == "" {
		return "I couldn't work that out."
	}
	if expr := res.Slot("expression"); expr != "" {
		return fmt.Sprintf("%s is %s.", expr, result)
	}
	return "The answer is " + result + "."
}

func (o *Orchestrator) social(res domain.IntentResult) string {
	switch res.Kind {
	case domain.KindGreeting:
		return o.pick(greetingPhrases)
	case domain.KindFarewell:
		return o.pick(farewellPhrases)
	case domain.KindThanks:
		return o.pick(thanksPhrases)
	case domain.KindHowAreYou:
		return o.pick(howAreYouPhrases)
	case domain.KindHelp:
		return helpText
	case domain.KindAssistantIdentity:
		return fmt.Sprintf("I'm %s, your voice assistant.", o.assistant)
	default:
		return generalReply(res)
	}
}

func generalReply(res domain.IntentResult) string {
	if res.Reply != "" {
		return res.Reply
	}
	return "I'm not sure how to help with that yet."
}

// delegate hands res to the Executor. Intents without an integration answer with the
// remote reply when there is one.
func (o *Orchestrator) delegate(t *turn, res domain.IntentResult) string {
	if o.executor != nil {
		text, err := o.executor.Execute(t.st.Context(), res)
		switch {
		case err == nil:
			return text
		case errors.Is(err, ErrNotHandled):
		default:
			t.fail(err)
			o.logger.Warn("Action failed",
				"user_id", t.req.UserID,
				"intent", res.Kind.String(),
				"error", err)
			return fmt.Sprintf("Sorry, I couldn't %s.", dialog.Label(res.Kind))
		}
	}
	if res.Reply != "" {
		return res.Reply
	}
	return fmt.Sprintf("I can't %s yet.", strings.TrimSpace(dialog.Label(res.Kind)))
}

// Acknowledge is the Executor for deployments without device or account integrations.
// It confirms actions in words and leaves lookups to the reasoning service's reply.
var Acknowledge = ExecutorFunc(func(_ context.Context, res domain.IntentResult) (string, error) {
	if res.Kind.Category() == domain.CategoryInfo {
		return "", ErrNotHandled
	}
	switch res.Kind {
	case domain.KindListNotes, domain.KindListReminders, domain.KindCalendarToday,
		domain.KindReadEmail, domain.KindUnreadEmailCount, domain.KindCheckBalance, domain.KindTraffic:
		return "", ErrNotHandled
	}
	return fmt.Sprintf("Okay, %s.", dialog.Describe(res)), nil
})
