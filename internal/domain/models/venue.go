package models

// BuyRequest is one outbound order.
type BuyRequest struct {
	Price         float64
	Amount        float64
	ContractType  string
	Currency      string
	Duration      int
	DurationUnit  string
	Symbol        string
	CorrelationID string
}

// BuyAck is the venue's acknowledgement of a buy.
type BuyAck struct {
	ContractID    int64
	BuyPrice      float64
	BalanceAfter  float64
	CorrelationID string
}

// CodeMalformedFrame tags locally generated errors for inbound frames that
// failed to decode.
const CodeMalformedFrame = "MalformedFrame"

// VenueError is an error object carried by any inbound message.
type VenueError struct {
	Code    string
	Message string
	MsgType MsgType // request that failed, empty when unknown
}

func (e *VenueError) Error() string {
	if e.MsgType == "" {
		return e.Code + ": " + e.Message
	}
	return string(e.MsgType) + ": " + e.Code + ": " + e.Message
}

// MsgType is the venue msg_type discriminator.
type MsgType string

const (
	MsgAuthorize MsgType = "authorize"
	MsgTick      MsgType = "tick"
	MsgBuy       MsgType = "buy"
	MsgContract  MsgType = "proposal_open_contract"
	MsgPing      MsgType = "ping"
	MsgError     MsgType = "error"
)

// VenueEvent is one decoded inbound message. Exactly one payload field is set
// according to Type.
type VenueEvent struct {
	Type     MsgType
	Auth     *Authorization
	Tick     *Tick
	Buy      *BuyAck
	Contract *Settlement
	Err      *VenueError
}
