package core

// Platform identifies the originating live-streaming service.
type Platform string

const (
	PlatformTikTok         Platform = "tiktok"
	PlatformTwitch         Platform = "twitch"
	PlatformYouTube        Platform = "youtube"
	PlatformStreamElements Platform = "streamelements"
	PlatformCustom         Platform = "custom"
)

var platformNames = map[Platform]string{
	PlatformTikTok:         "TikTok",
	PlatformTwitch:         "Twitch",
	PlatformYouTube:        "YouTube",
	PlatformStreamElements: "StreamElements",
	PlatformCustom:         "Custom",
}

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(s)
	_, ok := platformNames[p]
	return p, ok
}

// DisplayName returns the human form of the platform name ("tiktok" -> "TikTok").
func (p Platform) DisplayName() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return string(p)
}

// EventType is the canonical event kind. The set is closed: anything outside
// it is rejected, including the legacy aliases that older integrations used
// for paid memberships.
type EventType string

const (
	EventChatMessage        EventType = "platform:chat-message"
	EventGift               EventType = "platform:gift"
	EventFollow             EventType = "platform:follow"
	EventShare              EventType = "platform:share"
	EventRaid               EventType = "platform:raid"
	EventEnvelope           EventType = "platform:envelope"
	EventPaypiggy           EventType = "platform:paypiggy"
	EventStreamStatus       EventType = "platform:stream-status"
	EventConnection         EventType = "platform:connection"
	EventDisconnection      EventType = "platform:disconnection"
	EventError              EventType = "platform:error"
	EventVFXCommandExecuted EventType = "platform:vfx-command-executed"
	EventVFXEffectCompleted EventType = "platform:vfx-effect-completed"
)

// typeKeys maps canonical kinds to the short keys used in configuration and
// VFX command lookup.
var typeKeys = map[EventType]string{
	EventChatMessage:        "chat",
	EventGift:               "gift",
	EventFollow:             "follow",
	EventShare:              "share",
	EventRaid:               "raid",
	EventEnvelope:           "envelope",
	EventPaypiggy:           "paypiggy",
	EventStreamStatus:       "streamStatus",
	EventConnection:         "connection",
	EventDisconnection:      "disconnection",
	EventError:              "error",
	EventVFXCommandExecuted: "vfxCommandExecuted",
	EventVFXEffectCompleted: "vfxEffectCompleted",
}

func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	_, ok := typeKeys[t]
	return t, ok
}

// Key returns the short config key for the kind ("platform:gift" -> "gift").
func (t EventType) Key() string { return typeKeys[t] }

// legacyAliases are membership type names the pipeline must refuse. They are
// only ever mapped one way: a factory produces platform:paypiggy with the
// appropriate tier, never the other direction.
var legacyAliases = map[string]struct{}{
	"subscription": {},
	"subscribe":    {},
	"membership":   {},
	"superfan":     {},
	"supporter":    {},
	"superchat":    {},
}

func IsLegacyAlias(s string) bool {
	_, ok := legacyAliases[s]
	return ok
}

// Metadata travels with every canonical event.
type Metadata struct {
	Platform      string         `json:"platform"`
	CorrelationID string         `json:"correlationId"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Base carries the fields every canonical event shares. Events are built by
// a factory and immutable afterwards; nothing downstream mutates them.
type Base struct {
	Type      EventType `json:"type"`
	Platform  Platform  `json:"platform"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp string    `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

func (b Base) Kind() EventType { return b.Type }
func (b Base) Common() Base    { return b }

// Event is the canonical record flowing over the platform:event topic.
// Concrete kinds embed Base; the router dispatches on Kind().
type Event interface {
	Kind() EventType
	Common() Base
}

type ChatMessage struct {
	Base
	Text          string `json:"text"`
	IsMod         bool   `json:"isMod"`
	IsSubscriber  bool   `json:"isSubscriber"`
	IsBroadcaster bool   `json:"isBroadcaster"`
}

// Gift covers platform:gift and platform:envelope; an envelope is a gift
// with a fixed gift type and unit count.
type Gift struct {
	Base
	GiftType         string         `json:"giftType"`
	GiftCount        int            `json:"giftCount"`
	Amount           float64        `json:"amount"`
	Currency         string         `json:"currency"`
	MessageID        string         `json:"id"`
	RepeatCount      int            `json:"repeatCount,omitempty"`
	UnitAmount       float64        `json:"unitAmount,omitempty"`
	IsAggregated     bool           `json:"isAggregated,omitempty"`
	AggregatedCount  int            `json:"aggregatedCount,omitempty"`
	EnhancedGiftData map[string]any `json:"enhancedGiftData,omitempty"`
}

type Follow struct {
	Base
}

type Share struct {
	Base
}

type Raid struct {
	Base
	ViewerCount int `json:"viewerCount"`
}

// Paypiggy is the canonical paid-membership event, whatever the platform
// calls it (subscription, membership, superfan, superchat).
type Paypiggy struct {
	Base
	Tier      string `json:"tier,omitempty"`
	Months    int    `json:"months,omitempty"`
	Message   string `json:"message,omitempty"`
	IsRenewal bool   `json:"isRenewal,omitempty"`
}

type StreamStatus struct {
	Base
	IsLive bool `json:"isLive"`
}

type Connection struct {
	Base
}

type Disconnection struct {
	Base
	Reason string `json:"reason,omitempty"`
}

type PlatformError struct {
	Base
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type VFXCommandExecuted struct {
	Base
	CommandKey       string `json:"commandKey"`
	Command          string `json:"command,omitempty"`
	NotificationType string `json:"notificationType,omitempty"`
}

type VFXEffectCompleted struct {
	Base
	CommandKey       string `json:"commandKey"`
	Command          string `json:"command,omitempty"`
	NotificationType string `json:"notificationType,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Result is the typed outcome returned by the notification and VFX surfaces.
// Rejections (cooldowns, legacy aliases) are results, not errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func OK() Result { return Result{Success: true} }

func Fail(msg string) Result { return Result{Success: false, Error: msg} }
