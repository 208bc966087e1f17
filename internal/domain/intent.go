package domain

import (
	"fmt"
	"maps"
	"math"
)

// IntentKind is the closed set of actions the assistant can resolve an utterance to.
type IntentKind int

// Intent kinds. KindGeneral and KindError are not actions; every other kind maps to
// exactly one Category.
const (
	KindGeneral IntentKind = iota
	KindError

	KindTimeQuery
	KindDateQuery
	KindDayQuery

	KindCalculate

	KindOpenApp
	KindCloseApp

	KindVolumeUp
	KindVolumeDown
	KindMute
	KindUnmute
	KindBrightnessUp
	KindBrightnessDown
	KindScreenshot
	KindLockScreen
	KindShutdown
	KindRestart
	KindSleepDevice

	KindLightsOn
	KindLightsOff
	KindSetThermostat
	KindLockDoor
	KindUnlockDoor

	KindPlayMusic
	KindPauseMusic
	KindResumeMusic
	KindNextTrack
	KindPreviousTrack

	KindWeather
	KindNews
	KindWebSearch
	KindEncyclopedia
	KindDefinition
	KindTranslate
	KindJoke
	KindFact

	KindCreateNote
	KindListNotes
	KindSetReminder
	KindListReminders
	KindSetTimer
	KindSetAlarm
	KindCalendarToday
	KindCreateEvent

	KindSendMessage
	KindSendEmail
	KindReadEmail
	KindUnreadEmailCount
	KindMakeCall

	KindMakePayment
	KindSendMoney
	KindPayBill
	KindCheckBalance

	KindNavigate
	KindFindNearby
	KindTraffic

	KindGreeting
	KindFarewell
	KindThanks
	KindHowAreYou
	KindHelp
	KindAssistantIdentity

	kindCount
)

// Category groups intent kinds that share an action handler.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryError         Category = "error"
	CategoryTime          Category = "time"
	CategoryMath          Category = "math"
	CategoryApp           Category = "app"
	CategorySystem        Category = "system"
	CategoryDevice        Category = "device"
	CategoryMedia         Category = "media"
	CategoryInfo          Category = "info"
	CategoryProductivity  Category = "productivity"
	CategoryCommunication Category = "communication"
	CategoryPayment       Category = "payment"
	CategoryNavigation    Category = "navigation"
	CategorySocial        Category = "social"
)

type kindMeta struct {
	name      string
	category  Category
	sensitive bool
	volatile  bool // answer depends on the current moment
}

var kinds = [kindCount]kindMeta{
	KindGeneral: {name: "general", category: CategoryGeneral},
	KindError:   {name: "error", category: CategoryError},

	KindTimeQuery: {name: "time_query", category: CategoryTime, volatile: true},
	KindDateQuery: {name: "date_query", category: CategoryTime, volatile: true},
	KindDayQuery:  {name: "day_query", category: CategoryTime, volatile: true},

	KindCalculate: {name: "calculate", category: CategoryMath},

	KindOpenApp:  {name: "open_app", category: CategoryApp},
	KindCloseApp: {name: "close_app", category: CategoryApp},

	KindVolumeUp:       {name: "volume_up", category: CategorySystem},
	KindVolumeDown:     {name: "volume_down", category: CategorySystem},
	KindMute:           {name: "mute", category: CategorySystem},
	KindUnmute:         {name: "unmute", category: CategorySystem},
	KindBrightnessUp:   {name: "brightness_up", category: CategorySystem},
	KindBrightnessDown: {name: "brightness_down", category: CategorySystem},
	KindScreenshot:     {name: "screenshot", category: CategorySystem},
	KindLockScreen:     {name: "lock_screen", category: CategorySystem},
	KindShutdown:       {name: "shutdown", category: CategorySystem, sensitive: true},
	KindRestart:        {name: "restart", category: CategorySystem, sensitive: true},
	KindSleepDevice:    {name: "sleep_device", category: CategorySystem},

	KindLightsOn:      {name: "lights_on", category: CategoryDevice, sensitive: true},
	KindLightsOff:     {name: "lights_off", category: CategoryDevice, sensitive: true},
	KindSetThermostat: {name: "set_thermostat", category: CategoryDevice, sensitive: true},
	KindLockDoor:      {name: "lock_door", category: CategoryDevice, sensitive: true},
	KindUnlockDoor:    {name: "unlock_door", category: CategoryDevice, sensitive: true},

	KindPlayMusic:     {name: "play_music", category: CategoryMedia},
	KindPauseMusic:    {name: "pause_music", category: CategoryMedia},
	KindResumeMusic:   {name: "resume_music", category: CategoryMedia},
	KindNextTrack:     {name: "next_track", category: CategoryMedia},
	KindPreviousTrack: {name: "previous_track", category: CategoryMedia},

	KindWeather:      {name: "weather", category: CategoryInfo, volatile: true},
	KindNews:         {name: "news", category: CategoryInfo, volatile: true},
	KindWebSearch:    {name: "web_search", category: CategoryInfo},
	KindEncyclopedia: {name: "encyclopedia", category: CategoryInfo},
	KindDefinition:   {name: "definition", category: CategoryInfo},
	KindTranslate:    {name: "translate", category: CategoryInfo},
	KindJoke:         {name: "joke", category: CategoryInfo},
	KindFact:         {name: "fact", category: CategoryInfo},

	KindCreateNote:    {name: "create_note", category: CategoryProductivity},
	KindListNotes:     {name: "list_notes", category: CategoryProductivity},
	KindSetReminder:   {name: "set_reminder", category: CategoryProductivity},
	KindListReminders: {name: "list_reminders", category: CategoryProductivity},
	KindSetTimer:      {name: "set_timer", category: CategoryProductivity},
	KindSetAlarm:      {name: "set_alarm", category: CategoryProductivity},
	KindCalendarToday: {name: "calendar_today", category: CategoryProductivity, volatile: true},
	KindCreateEvent:   {name: "create_event", category: CategoryProductivity},

	KindSendMessage:      {name: "send_message", category: CategoryCommunication, sensitive: true},
	KindSendEmail:        {name: "send_email", category: CategoryCommunication, sensitive: true},
	KindReadEmail:        {name: "read_email", category: CategoryCommunication},
	KindUnreadEmailCount: {name: "unread_email_count", category: CategoryCommunication, volatile: true},
	KindMakeCall:         {name: "make_call", category: CategoryCommunication, sensitive: true},

	KindMakePayment:  {name: "make_payment", category: CategoryPayment, sensitive: true},
	KindSendMoney:    {name: "send_money", category: CategoryPayment, sensitive: true},
	KindPayBill:      {name: "pay_bill", category: CategoryPayment, sensitive: true},
	KindCheckBalance: {name: "check_balance", category: CategoryPayment, volatile: true},

	KindNavigate:   {name: "navigate", category: CategoryNavigation},
	KindFindNearby: {name: "find_nearby", category: CategoryNavigation},
	KindTraffic:    {name: "traffic", category: CategoryNavigation, volatile: true},

	KindGreeting:          {name: "greeting", category: CategorySocial},
	KindFarewell:          {name: "farewell", category: CategorySocial},
	KindThanks:            {name: "thanks", category: CategorySocial},
	KindHowAreYou:         {name: "how_are_you", category: CategorySocial},
	KindHelp:              {name: "help", category: CategorySocial},
	KindAssistantIdentity: {name: "assistant_identity", category: CategorySocial},
}

var kindsByName = func() map[string]IntentKind {
	m := make(map[string]IntentKind, len(kinds))
	for i, meta := range kinds {
		m[meta.name] = IntentKind(i)
	}
	return m
}()

// AllIntentKinds returns every defined kind, including KindGeneral and KindError.
func AllIntentKinds() []IntentKind {
	out := make([]IntentKind, 0, kindCount)
	for k := IntentKind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseIntentKind maps a wire name to a kind. Unknown names resolve to KindGeneral
// and ok=false.
func ParseIntentKind(name string) (IntentKind, bool) {
	k, ok := kindsByName[name]
	if !ok {
		return KindGeneral, false
	}
	return k, true
}

// Valid reports whether k is one of the defined kinds.
func (k IntentKind) Valid() bool {
	return k >= 0 && k < kindCount
}

// String returns the stable wire name.
func (k IntentKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("intent_kind(%d)", int(k))
	}
	return kinds[k].name
}

// Category returns the handler group for k. Invalid kinds belong to CategoryGeneral.
func (k IntentKind) Category() Category {
	if !k.Valid() {
		return CategoryGeneral
	}
	return kinds[k].category
}

// Sensitive reports whether executing k requires an explicit confirmation:
// payments, outbound messages/calls/mail and device actuation.
func (k IntentKind) Sensitive() bool {
	return k.Valid() && kinds[k].sensitive
}

// TimeSensitive reports whether the answer for k goes stale immediately
// (current time/date, weather, news, unread counts, balances).
func (k IntentKind) TimeSensitive() bool {
	return k.Valid() && kinds[k].volatile
}

// MarshalText implements encoding.TextMarshaler.
func (k IntentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to KindGeneral.
func (k *IntentKind) UnmarshalText(b []byte) error {
	*k, _ = ParseIntentKind(string(b))
	return nil
}

// Provenance records which resolution path produced an IntentResult.
type Provenance string

const (
	ProvenanceFast    Provenance = "fast"
	ProvenancePartial Provenance = "partial"
	ProvenanceRemote  Provenance = "remote"
	ProvenanceOffline Provenance = "offline"
	ProvenanceCache   Provenance = "cache"
)

// IntentResult is the outcome of resolving one utterance. Values are treated as
// immutable; use the With* helpers to derive modified copies.
type IntentResult struct {
	Kind         IntentKind        `json:"kind"`
	Confidence   float64           `json:"confidence"`
	SourceText   string            `json:"source_text"`
	Slots        map[string]string `json:"slots,omitempty"`
	Provenance   Provenance        `json:"provenance"`
	Alternatives []IntentKind      `json:"alternatives,omitempty"`
	Reply        string            `json:"reply,omitempty"`
}

// NewIntentResult builds a result with confidence clamped to [0,1] and a private copy of slots.
func NewIntentResult(kind IntentKind, confidence float64, source string, slots map[string]string, prov Provenance) IntentResult {
	return IntentResult{
		Kind:       kind,
		Confidence: ClampConfidence(confidence),
		SourceText: source,
		Slots:      maps.Clone(slots),
		Provenance: prov,
	}
}

// ClampConfidence bounds c to [0,1]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Slot returns the slot value for key, or "".
func (r IntentResult) Slot(key string) string {
	return r.Slots[key]
}

// HasAlternatives reports whether competing kinds were detected.
func (r IntentResult) HasAlternatives() bool {
	return len(r.Alternatives) > 0
}

// WithProvenance returns a copy of r tagged with p.
func (r IntentResult) WithProvenance(p Provenance) IntentResult {
	out := r.clone()
	out.Provenance = p
	return out
}

// WithAlternatives returns a copy of r carrying alts.
func (r IntentResult) WithAlternatives(alts ...IntentKind) IntentResult {
	out := r.clone()
	out.Alternatives = append([]IntentKind(nil), alts...)
	return out
}

// WithReply returns a copy of r carrying free text to speak back.
func (r IntentResult) WithReply(reply string) IntentResult {
	out := r.clone()
	out.Reply = reply
	return out
}

func (r IntentResult) clone() IntentResult {
	out := r
	out.Slots = maps.Clone(r.Slots)
	out.Alternatives = append([]IntentKind(nil), r.Alternatives...)
	if len(out.Alternatives) == 0 {
		out.Alternatives = nil
	}
	return out
}
