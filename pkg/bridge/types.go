package bridge

import (
	"github.com/teleprompt/teleprompt/pkg/payload"
	"github.com/teleprompt/teleprompt/pkg/registry"
)

// Command types accepted from a connected browser shim.
const (
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdUpload      = "UPLOAD"
)

// Event types sent back over the socket.
const (
	EventResult  = "RESULT"
	EventPayload = "PAYLOAD"
)

// Command is a request from the browser side. Seq is echoed back on the
// RESULT event so the shim can correlate replies.
type Command struct {
	Type    string            `json:"type"`
	Seq     int64             `json:"seq,omitempty"`
	TabID   int               `json:"tab_id,omitempty"`
	Tab     *registry.TabInfo `json:"tab,omitempty"`
	Payload *payload.Payload  `json:"payload,omitempty"`
}

// Event is a message to the browser side: either a RESULT for a command, or
// a PAYLOAD broadcast for a subscribed tab.
type Event struct {
	Type    string           `json:"type"`
	Seq     int64            `json:"seq,omitempty"`
	TabID   int              `json:"tab_id,omitempty"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Payload *payload.Payload `json:"payload,omitempty"`
}

func resultOK(seq int64) Event {
	return Event{Type: EventResult, Seq: seq, OK: true}
}

func resultErr(seq int64, msg string) Event {
	return Event{Type: EventResult, Seq: seq, OK: false, Error: msg}
}
