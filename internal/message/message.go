// Package message defines the clipkeep IPC protocol.
//
// All messages are newline-delimited JSON. Each message is exactly one line:
// <json>\n. A client sends one request per connection and reads one response,
// except WATCH, after which the server streams EVENT messages until either
// side closes.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of message.
type Type string

// Requests.
const (
	TypeList   Type = "LIST"
	TypeSearch Type = "SEARCH"
	TypeShow   Type = "SHOW"
	TypePaste  Type = "PASTE"
	TypePin    Type = "PIN"
	TypeDelete Type = "DELETE"
	TypeClear  Type = "CLEAR"
	TypeStatus Type = "STATUS"
	TypeWatch  Type = "WATCH"
)

// Responses.
const (
	TypeEntries        Type = "ENTRIES"
	TypeOK             Type = "OK"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeEvent          Type = "EVENT"
	TypeError          Type = "ERROR"
)

// Event names carried by EVENT messages.
type Event string

const (
	// EventAdded: a capture was stored. Entries holds the new entry.
	EventAdded Event = "added"
	// EventChanged: entries were pinned, deleted or cleared. ID is set when a
	// single entry changed.
	EventChanged Event = "changed"
	// EventShow: the history was activated. Entries holds the first page.
	EventShow Event = "show"
)

// Entry is the list form of a history entry. Image bytes are never sent.
type Entry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Pinned    bool      `json:"pinned,omitempty"`
	Preview   string    `json:"preview"`
	ImageHash string    `json:"image_hash,omitempty"`
	Length    int       `json:"length,omitempty"`
}

// Status describes the running daemon.
type Status struct {
	Listener  string    `json:"listener"`
	Backend   string    `json:"backend"`
	Entries   int       `json:"entries"`
	Watchers  int       `json:"watchers"`
	Database  string    `json:"database"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type Type `json:"type"`

	// PASTE, PIN, DELETE; EVENT changed
	ID int64 `json:"id,omitempty"`

	// LIST, SEARCH
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`

	// ENTRIES, EVENT
	Event   Event   `json:"event,omitempty"`
	Entries []Entry `json:"entries,omitempty"`

	// STATUS_RESPONSE
	Status *Status `json:"status,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message decode: missing type")
	}
	return &m, nil
}

// Errorf builds an ERROR response.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// NeedsID reports whether a request of type t must carry an entry id.
func NeedsID(t Type) bool {
	switch t {
	case TypePaste, TypePin, TypeDelete:
		return true
	}
	return false
}
