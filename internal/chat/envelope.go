package chat

import "encoding/json"

// Envelope is the {type, payload} wrapper used for every real-time protocol
// message, inbound and outbound, on both transports.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload value. Payload types are the structs below, so
// a marshal failure is a programming error; it degrades to an empty payload.
func NewEnvelope(typ string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: typ}
	}
	return Envelope{Type: typ, Payload: b}
}

// Inbound operation types.
const (
	OpRegister   = "register"
	OpJoinDirect = "joinDirect"
	OpSendDirect = "sendDirect"
	OpTyping     = "typing"
	OpDelivered  = "delivered"
	OpRead       = "read"
	OpHistory    = "history"
	OpSearch     = "search"
	OpEdit       = "edit"
	OpDelete     = "delete"
	OpReact      = "reactToMessage"
	OpUnreact    = "unreactToMessage"
)

// Outbound event types.
const (
	EventMessageReceived        = "messageReceived"
	EventTyping                 = "typing"
	EventDeliveredReceipts      = "deliveredReceipts"
	EventReadReceipts           = "readReceipts"
	EventMessageEdited          = "messageEdited"
	EventMessageDeleted         = "messageDeleted"
	EventMessageReactionUpdated = "messageReactionUpdated"
	EventPresenceChanged        = "presenceChanged"
	EventHistoryResult          = "historyResult"
	EventRegistered             = "registered"
	EventJoined                 = "joined"
	EventError                  = "error"
)

// Error codes carried by error envelopes.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthenticated = "unauthenticated"
	CodeStorage         = "storage"
	// CodeRateLimited tells a well-formed but throttled peer to back off,
	// mirroring the HTTP surface's 429.
	CodeRateLimited = "rate_limited"
)
