package events

import "github.com/crystal-mush/mushcore/pkg/gamedb"

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText       EventType = iota // Raw text (universal fallback)
	EvSay                         // Speech
	EvPose                        // Pose/emote
	EvEmit                        // @emit / @pemit
	EvChannel                     // @chat
	EvMove                        // Arrive/depart
	EvConnect                     // Player connected
	EvDisconnect                  // Player disconnected
	EvQueue                       // Scheduler notices (halts, runaways)
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvSay:
		return "say"
	case EvPose:
		return "pose"
	case EvEmit:
		return "emit"
	case EvChannel:
		return "channel"
	case EvMove:
		return "move"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// Event is a structured game event that flows through the event bus.
// The line server writes Text; the status API may use the structured data.
type Event struct {
	Type    EventType      `json:"type"`
	Player  gamedb.DBRef   `json:"player"` // Recipient (Nothing for broadcast)
	Source  gamedb.DBRef   `json:"source"` // Who generated the event
	Room    gamedb.DBRef   `json:"room"`
	Channel string         `json:"channel,omitempty"`
	Text    string         `json:"text"`
	Data    map[string]any `json:"data,omitempty"`
}
