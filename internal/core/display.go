package core

import "time"

// Priority orders display items in the on-screen queue. Higher values are
// shown first; ties preserve enqueue order.
type Priority int

const (
	PriorityChat Priority = iota
	PriorityFollow
	PriorityShare
	PriorityRaid
	PriorityGift
	PriorityMember // paypiggy / paid membership
)

var priorityNames = map[Priority]string{
	PriorityChat:   "chat",
	PriorityFollow: "follow",
	PriorityShare:  "share",
	PriorityRaid:   "raid",
	PriorityGift:   "gift",
	PriorityMember: "member",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// PriorityFor classifies a canonical kind into its display priority.
func PriorityFor(t EventType) Priority {
	switch t {
	case EventPaypiggy:
		return PriorityMember
	case EventGift, EventEnvelope:
		return PriorityGift
	case EventRaid:
		return PriorityRaid
	case EventShare:
		return PriorityShare
	case EventFollow:
		return PriorityFollow
	default:
		return PriorityChat
	}
}

// VFXConfig describes the effect tied to a display item or chat command.
// CommandKey is the stable identifier the effects engine resolves assets by.
type VFXConfig struct {
	CommandKey  string        `json:"commandKey"`
	Filename    string        `json:"filename,omitempty"`
	MediaSource string        `json:"mediaSource,omitempty"`
	FilePath    string        `json:"vfxFilePath,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// DisplayItem is one entry in the display queue: the event, the derived
// on-screen text, the optional TTS rendition that sizes its window, and an
// optional effect trigger.
type DisplayItem struct {
	Type           EventType
	Platform       Platform
	Priority       Priority
	Event          Event
	DisplayMessage string
	TTSMessage     string
	VFX            *VFXConfig
	Duration       time.Duration
	EnqueuedAt     time.Time
}

// DisplayContent is what viewers currently see. IsLingering marks the
// last chat item being held on screen while nothing else is queued.
type DisplayContent struct {
	Item        DisplayItem
	IsLingering bool
}
