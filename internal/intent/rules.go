package intent

import (
	"regexp"

	"github.com/ashureev/voxcore/internal/domain"
)

// rule is one row of the ordered match table. Named capture groups become slots.
type rule struct {
	kind     domain.IntentKind
	patterns []*regexp.Regexp
	dynamic  bool   // handler computes its answer from slots
	needs    string // slot required before dynamic scoring applies
}

func pat(kind domain.IntentKind, exprs ...string) rule {
	ps := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		ps[i] = regexp.MustCompile(e)
	}
	return rule{kind: kind, patterns: ps}
}

func dynPat(kind domain.IntentKind, needs string, exprs ...string) rule {
	out := pat(kind, exprs...)
	out.dynamic = true
	out.needs = needs
	return out
}

const (
	amountExpr   = `(?P<symbol>rs\.? ?|₹|\$)?(?P<amount>\d+(?:\.\d+)?) ?(?P<currency>rupees?|rs|inr|dollars?|usd|bucks|euros?|eur)?`
	durationExpr = `\d+ ?(?:seconds?|secs?|minutes?|mins?|hours?|hrs?)`
	deviceExpr   = `(?:the |my )?(?:computer|pc|system|laptop|machine)`
)

// buildRules returns the match table. Order is significant: the first matching row
// decides the kind, later matches are reported as alternatives.
func buildRules() []rule {
	return []rule{
		// time
		dynPat(domain.KindTimeQuery, "",
			`\bwhat(?:'s| is)? the time\b`,
			`\bwhat time is it\b`,
			`\b(?:current|tell me the) time\b`,
		),
		dynPat(domain.KindDateQuery, "",
			`\bwhat(?:'s| is)? (?:the|today's) date\b`,
			`\bwhat date is (?:it|today)\b`,
			`\btoday's date\b`,
		),
		dynPat(domain.KindDayQuery, "",
			`\b(?:what|which) day is (?:it|today)\b`,
			`\bwhat(?:'s| is) the day\b`,
		),

		// system
		pat(domain.KindVolumeUp,
			`\b(?:increase|raise) (?:the )?volume\b`,
			`\bturn (?:the )?volume up\b`,
			`\bvolume up\b`,
			`\blouder\b`,
		),
		pat(domain.KindVolumeDown,
			`\b(?:decrease|lower|reduce) (?:the )?volume\b`,
			`\bturn (?:the )?volume down\b`,
			`\bvolume down\b`,
			`\bquieter\b`,
		),
		pat(domain.KindUnmute, `^unmute\b`),
		pat(domain.KindMute, `^(?:mute|silence)(?: (?:the )?(?:sound|audio|volume|computer))?$`),
		pat(domain.KindBrightnessUp,
			`\b(?:increase|raise) (?:the )?brightness\b`,
			`\bbrightness up\b`,
			`\bbrighter\b`,
		),
		pat(domain.KindBrightnessDown,
			`\b(?:decrease|lower|reduce|dim) (?:the )?(?:brightness|screen)\b`,
			`\bbrightness down\b`,
			`\bdimmer\b`,
		),
		pat(domain.KindScreenshot, `\bscreen ?shot\b`),
		pat(domain.KindLockScreen, `\block (?:the |my )?(?:screen|computer|pc|laptop)\b`),
		pat(domain.KindShutdown,
			`\b(?:shut ?down|power off|turn off) `+deviceExpr+`\b`,
			`^(?:shut ?down|power off)$`,
		),
		pat(domain.KindRestart,
			`\b(?:restart|reboot) `+deviceExpr+`\b`,
			`^(?:restart|reboot)$`,
		),
		pat(domain.KindSleepDevice,
			`\bput `+deviceExpr+` to sleep\b`,
			`\bsleep mode\b`,
		),

		// device
		pat(domain.KindLightsOn,
			`\b(?:turn|switch) on (?:the )?lights?\b`,
			`\b(?:turn|switch) (?:the )?lights? on\b`,
			`^lights? on\b`,
		),
		pat(domain.KindLightsOff,
			`\b(?:turn|switch) off (?:the )?lights?\b`,
			`\b(?:turn|switch) (?:the )?lights? off\b`,
			`^lights? off\b`,
		),
		pat(domain.KindSetThermostat,
			`\bset (?:the )?(?:thermostat|temperature|heating|ac) to (?P<temperature>\d+)`,
			`\b(?:make it|set it to) (?P<temperature>\d+) degrees\b`,
		),
		pat(domain.KindUnlockDoor, `\bunlock (?:the |my )?(?:front |back )?door\b`),
		pat(domain.KindLockDoor, `\block (?:the |my )?(?:front |back )?door\b`),

		// media
		pat(domain.KindPauseMusic,
			`^(?:pause|stop)(?: the)? (?:music|song|playback|playing)$`,
			`^pause$`,
		),
		pat(domain.KindResumeMusic, `^(?:resume|continue|unpause)(?: the)?(?: music| song| playback)?$`),
		pat(domain.KindNextTrack,
			`\b(?:next|skip(?: this)?) (?:song|track)\b`,
			`^(?:skip|next)$`,
		),
		pat(domain.KindPreviousTrack,
			`\b(?:previous|last) (?:song|track)\b`,
			`\bgo back a (?:song|track)\b`,
		),
		pat(domain.KindPlayMusic,
			`^(?:please )?play (?:some |a )?(?:music|songs?)$`,
			`^(?:please )?play (?P<query>.+?)(?: on (?P<app>spotify|youtube))?$`,
			`\bput on some music\b`,
		),

		// payment
		pat(domain.KindPayBill, `\bpay (?:my |the )?(?:(?P<biller>[a-z]+) )?bill\b`),
		pat(domain.KindCheckBalance,
			`\b(?:check|what(?:'s| is)) (?:my )?(?:account |bank )?balance\b`,
			`\bhow much money do i have\b`,
		),
		dynPat(domain.KindSendMoney, "amount",
			`\b(?:send|transfer) `+amountExpr+` to (?P<payee>[a-z]+)(?: (?:using|via|with|through|on) (?P<app>[a-z ]+))?`,
			`\b(?:send|transfer) money to (?P<payee>[a-z]+)`,
		),
		dynPat(domain.KindMakePayment, "amount",
			`^(?:please )?(?:make a )?pay(?:ment)?(?: of)? `+amountExpr+`(?: to (?P<payee>[a-z]+))?(?: (?:using|via|with|through|on) (?P<app>[a-z ]+))?`,
			`\bmake a payment\b`,
		),

		// communication
		pat(domain.KindSendMessage,
			`\b(?:send|text) (?:a )?(?:message|text|msg|whatsapp) to (?P<contact>[a-z]+)(?: (?:saying|that) (?P<body>.+))?`,
			`^(?:text|message) (?P<contact>[a-z]+)(?: (?:saying|that) (?P<body>.+))?$`,
		),
		pat(domain.KindSendEmail,
			`\b(?:send|write|compose) (?:an )?e-?mail to (?P<contact>[a-z0-9.@]+)(?: (?:about|saying) (?P<body>.+))?`,
			`^e-?mail (?P<contact>[a-z0-9.@]+)`,
		),
		pat(domain.KindUnreadEmailCount,
			`\bhow many (?:new |unread )+e-?mails?\b`,
			`\b(?:any new|unread) e-?mails?\b`,
		),
		pat(domain.KindReadEmail, `\b(?:read|check|show) (?:me )?(?:my )?(?:e-?mails?|inbox)\b`),
		pat(domain.KindMakeCall,
			`^(?:please )?(?:call|phone|dial|ring) (?P<contact>[a-z0-9 ]+)$`,
			`\bmake a (?:phone )?call to (?P<contact>[a-z0-9 ]+)$`,
		),

		// productivity
		pat(domain.KindListNotes, `\b(?:show|list|read|what are) (?:me )?(?:my |all )?notes\b`),
		pat(domain.KindCreateNote,
			`\b(?:take|make|create|write|add) (?:a )?note(?: (?:that|saying|to|about) (?P<body>.+))?`,
			`^note (?:that|down) (?P<body>.+)$`,
		),
		pat(domain.KindListReminders, `\b(?:show|list|what are) (?:me )?(?:my |all )?reminders\b`),
		pat(domain.KindSetReminder,
			`\bremind me (?:to )?(?P<body>.+)$`,
			`\bset (?:a )?reminder(?: (?:to|for) (?P<body>.+))?`,
		),
		pat(domain.KindSetTimer,
			`\bset (?:a )?timer(?: for (?P<duration>`+durationExpr+`))?`,
			`\bstart (?:a )?timer\b`,
			`\btimer for (?P<duration>`+durationExpr+`)`,
			`^(?:start )?(?:a )?(?P<duration>`+durationExpr+`) timer$`,
		),
		pat(domain.KindSetAlarm,
			`\bset (?:an )?alarm(?: (?:for|at) (?P<when>.+))?$`,
			`\bwake me up(?: at (?P<when>.+))?$`,
		),
		pat(domain.KindCalendarToday,
			`\bwhat(?:'s| is) on my (?:calendar|schedule|agenda)\b`,
			`\b(?:calendar|schedule|agenda) (?:for )?today\b`,
			`\bdo i have any meetings\b`,
		),
		pat(domain.KindCreateEvent, `\b(?:schedule|create|add|book) (?:a |an )?(?:meeting|event|appointment)(?: (?:with|for|about) (?P<body>.+))?`),

		// navigation
		pat(domain.KindNavigate, `\b(?:navigate|directions|take me|how do i get) to (?P<place>.+)$`),
		pat(domain.KindFindNearby,
			`\b(?:find|where(?:'s| is)(?: the)?|show me)(?: an?| the)? (?:nearby|nearest|closest) (?P<place>.+)$`,
			`^(?:find )?(?P<place>[a-z ]+?) near me$`,
		),
		pat(domain.KindTraffic,
			`\btraffic\b`,
			`\bhow(?:'s| is) the commute\b`,
		),

		// app
		dynPat(domain.KindOpenApp, "app", `^(?:please )?(?:open|launch|start) (?:the )?(?P<app>[a-z0-9 .]+?)(?: app| application)?$`),
		dynPat(domain.KindCloseApp, "app", `^(?:please )?(?:close|quit|exit) (?:the )?(?P<app>[a-z0-9 .]+?)(?: app| application)?$`),

		// info
		pat(domain.KindWeather,
			`\bweather(?: (?:in|for|at) (?P<city>[a-z ]+))?`,
			`\b(?:will it|is it going to) (?:rain|snow)\b`,
			`\btemperature (?:outside|in (?P<city>[a-z ]+))`,
		),
		pat(domain.KindNews, `\b(?:news|headlines)\b`),
		pat(domain.KindWebSearch, `^(?:search(?: the web)?(?: for)?|google|look up) (?P<query>.+)$`),
		pat(domain.KindDefinition,
			`^define (?P<term>.+)$`,
			`\b(?:definition|meaning) of (?P<term>.+)$`,
			`^what does (?P<term>.+) mean$`,
		),
		pat(domain.KindTranslate,
			`\btranslate (?P<text>.+?)(?: (?:to|into) (?P<lang>[a-z]+))?$`,
			`\bhow do you say (?P<text>.+) in (?P<lang>[a-z]+)$`,
		),
		pat(domain.KindJoke,
			`\bjoke\b`,
			`\bmake me laugh\b`,
		),
		pat(domain.KindFact, `\b(?:tell me a|random|fun) fact\b`),
		pat(domain.KindEncyclopedia, `^(?:who (?:is|was)|tell me about|what is an?) (?P<topic>.+)$`),

		// social
		pat(domain.KindGreeting, `^(?:hi|hello|hey|hiya|good (?:morning|afternoon|evening))\b`),
		pat(domain.KindFarewell, `^(?:bye|goodbye|good night|see you|see ya)\b`),
		pat(domain.KindThanks, `\b(?:thanks|thank you|thx)\b`),
		pat(domain.KindHowAreYou,
			`\bhow are you\b`,
			`\bhow(?:'s| is) it going\b`,
		),
		pat(domain.KindHelp,
			`^help\b`,
			`\bwhat can you do\b`,
			`\bhow can you help\b`,
		),
		pat(domain.KindAssistantIdentity,
			`\bwho are you\b`,
			`\bwhat(?:'s| is) your name\b`,
			`\bare you (?:a )?(?:robot|human|bot)\b`,
		),
	}
}
