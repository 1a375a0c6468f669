package server

import (
	"encoding/json"

	"github.com/alimasry/go-collab-history/ot"
)

// Message types exchanged over WebSocket.
const (
	MsgJoin  = "join"
	MsgLeave = "leave"
	MsgOp    = "op"
	MsgAck   = "ack"
	MsgDoc   = "doc"
	MsgError = "error"

	// MsgSelect reports a selection change; the server relays it to the
	// other clients.
	MsgSelect = "select"

	// History requests. Each is answered with a MsgHistory carrying the
	// requester's depths; a step that changes the document is also
	// broadcast as a MsgOp to everyone, the requester included.
	MsgUndo          = "undo"
	MsgRedo          = "redo"
	MsgUndoSelection = "undoSelection"
	MsgRedoSelection = "redoSelection"
	MsgHistory       = "history"
)

// ClientMessage is a message from client to server.
type ClientMessage struct {
	Type     string       `json:"type"`
	DocID    string       `json:"docId,omitempty"`
	Revision int          `json:"revision"`
	Op       ot.Operation `json:"op,omitempty"`
	// Selection is the sender's selection: after Op for op messages, at
	// Revision for select messages.
	Selection *ot.Selection `json:"selection,omitempty"`
	// UserEvent names what caused the message, e.g. "input.type" or
	// "select.pointer". It drives undo grouping.
	UserEvent string `json:"userEvent,omitempty"`
	// Isolate is "", "before", "after" or "full".
	Isolate string `json:"isolate,omitempty"`
	// Author identifies the person behind a join, so their undo history
	// survives reconnects.
	Author string `json:"author,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type      string        `json:"type"`
	DocID     string        `json:"docId,omitempty"`
	Content   string        `json:"content"`
	Revision  int           `json:"revision"`
	Op        ot.Operation  `json:"op,omitempty"`
	Selection *ot.Selection `json:"selection,omitempty"`
	ClientID  string        `json:"clientId,omitempty"`
	Name      string        `json:"name,omitempty"`
	Color     string        `json:"color,omitempty"`
	Message   string        `json:"message,omitempty"`
	Clients   []ClientInfo  `json:"clients,omitempty"`
	UndoDepth int           `json:"undoDepth,omitempty"`
	RedoDepth int           `json:"redoDepth,omitempty"`
}

// ClientInfo describes a connected user.
type ClientInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
