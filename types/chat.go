package types

// TurnState is the inner state of a chat turn event.
type TurnState string

// Turn state constants. Neither state terminates a chat session; the
// connection stays open across turns.
const (
	TurnThinking TurnState = "thinking"
	TurnDone     TurnState = "done"
)

// ChatTurn is one server-pushed update within a conversational exchange.
type ChatTurn struct {
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	State          TurnState `json:"state"`
	Response       string    `json:"response,omitempty"`
}
