package intent

import (
	"cmp"
	"slices"

	"github.com/ashureev/voxcore/internal/domain"
)

// prefixEntry predicts candidate kinds from the opening words of an utterance.
type prefixEntry struct {
	prefix     string
	candidates []domain.IntentKind
	confidence float64
}

func pre(prefix string, confidence float64, candidates ...domain.IntentKind) prefixEntry {
	return prefixEntry{prefix: prefix, candidates: candidates, confidence: confidence}
}

// buildPrefixes returns the prefix table sorted longest first so the first hit is the
// longest matching prefix.
func buildPrefixes() []prefixEntry {
	table := []prefixEntry{
		pre("what's the time", 0.9, domain.KindTimeQuery),
		pre("what time", 0.85, domain.KindTimeQuery),
		pre("what's the date", 0.9, domain.KindDateQuery),
		pre("what day", 0.8, domain.KindDayQuery),
		pre("what's the weather", 0.9, domain.KindWeather),
		pre("what's the", 0.4, domain.KindTimeQuery, domain.KindDateQuery, domain.KindWeather),
		pre("what's on my", 0.7, domain.KindCalendarToday),
		pre("what's my balance", 0.85, domain.KindCheckBalance),
		pre("what can you", 0.8, domain.KindHelp),

		pre("open", 0.7, domain.KindOpenApp),
		pre("launch", 0.75, domain.KindOpenApp),
		pre("close", 0.7, domain.KindCloseApp),
		pre("quit", 0.65, domain.KindCloseApp),

		pre("turn up the volume", 0.9, domain.KindVolumeUp),
		pre("turn down the volume", 0.9, domain.KindVolumeDown),
		pre("volume", 0.45, domain.KindVolumeUp, domain.KindVolumeDown),
		pre("mute", 0.8, domain.KindMute),
		pre("unmute", 0.85, domain.KindUnmute),
		pre("take a screenshot", 0.9, domain.KindScreenshot),
		pre("lock the screen", 0.85, domain.KindLockScreen),
		pre("lock the door", 0.85, domain.KindLockDoor),
		pre("lock", 0.45, domain.KindLockScreen, domain.KindLockDoor),
		pre("unlock", 0.75, domain.KindUnlockDoor),
		pre("shut down", 0.8, domain.KindShutdown),
		pre("restart", 0.75, domain.KindRestart),

		pre("turn on the lights", 0.9, domain.KindLightsOn),
		pre("turn off the lights", 0.9, domain.KindLightsOff),
		pre("turn on", 0.4, domain.KindLightsOn),
		pre("turn off", 0.4, domain.KindLightsOff, domain.KindShutdown),
		pre("set the thermostat", 0.85, domain.KindSetThermostat),

		pre("play", 0.7, domain.KindPlayMusic),
		pre("pause", 0.8, domain.KindPauseMusic),
		pre("resume", 0.75, domain.KindResumeMusic),
		pre("next song", 0.9, domain.KindNextTrack),
		pre("skip", 0.7, domain.KindNextTrack),
		pre("previous song", 0.9, domain.KindPreviousTrack),

		pre("pay my", 0.55, domain.KindPayBill, domain.KindMakePayment),
		pre("pay", 0.6, domain.KindMakePayment, domain.KindPayBill),
		pre("send money", 0.85, domain.KindSendMoney),
		pre("transfer", 0.7, domain.KindSendMoney),
		pre("check my balance", 0.85, domain.KindCheckBalance),

		pre("send a message", 0.85, domain.KindSendMessage),
		pre("send an email", 0.85, domain.KindSendEmail),
		pre("send", 0.35, domain.KindSendMessage, domain.KindSendEmail, domain.KindSendMoney),
		pre("text", 0.65, domain.KindSendMessage),
		pre("call", 0.7, domain.KindMakeCall),
		pre("read my emails", 0.85, domain.KindReadEmail),
		pre("how many unread", 0.8, domain.KindUnreadEmailCount),

		pre("remind me", 0.85, domain.KindSetReminder),
		pre("set a timer", 0.9, domain.KindSetTimer),
		pre("set an alarm", 0.9, domain.KindSetAlarm),
		pre("set a", 0.4, domain.KindSetTimer, domain.KindSetReminder),
		pre("set", 0.3, domain.KindSetTimer, domain.KindSetAlarm, domain.KindSetThermostat),
		pre("take a note", 0.85, domain.KindCreateNote),
		pre("show my notes", 0.85, domain.KindListNotes),
		pre("schedule a", 0.75, domain.KindCreateEvent),

		pre("navigate to", 0.9, domain.KindNavigate),
		pre("directions to", 0.9, domain.KindNavigate),
		pre("how do i get to", 0.85, domain.KindNavigate),
		pre("find the nearest", 0.85, domain.KindFindNearby),
		pre("how's the traffic", 0.85, domain.KindTraffic),

		pre("search for", 0.85, domain.KindWebSearch),
		pre("look up", 0.7, domain.KindWebSearch, domain.KindDefinition),
		pre("define", 0.85, domain.KindDefinition),
		pre("translate", 0.85, domain.KindTranslate),
		pre("tell me a joke", 0.95, domain.KindJoke),
		pre("tell me a", 0.5, domain.KindJoke, domain.KindFact),
		pre("tell me about", 0.7, domain.KindEncyclopedia),
		pre("who is", 0.7, domain.KindEncyclopedia),
		pre("news", 0.75, domain.KindNews),

		pre("hello", 0.6, domain.KindGreeting),
		pre("hi", 0.55, domain.KindGreeting),
		pre("good morning", 0.8, domain.KindGreeting),
		pre("thank you", 0.9, domain.KindThanks),
		pre("thanks", 0.85, domain.KindThanks),
		pre("bye", 0.7, domain.KindFarewell),
		pre("how are you", 0.9, domain.KindHowAreYou),
		pre("who are you", 0.9, domain.KindAssistantIdentity),
	}
	slices.SortStableFunc(table, func(a, b prefixEntry) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
	return table
}

// hasWordPrefix reports whether text starts with prefix ending on a word boundary.
func hasWordPrefix(text, prefix string) bool {
	if len(text) < len(prefix) || text[:len(prefix)] != prefix {
		return false
	}
	return len(text) == len(prefix) || text[len(prefix)] == ' '
}
