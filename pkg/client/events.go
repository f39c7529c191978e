package client

import "github.com/orcchg/ChatServer-sub000/pkg/proto"

// EventKind discriminates the pushes a client surfaces on Events().
type EventKind int

const (
	// EventMessage is an incoming chat message.
	EventMessage EventKind = iota

	// EventSystem is a presence announcement or a forwarded handshake
	// notice.
	EventSystem

	// EventStatus is an unsolicited status frame, notably the code-99
	// termination broadcast.
	EventStatus
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventSystem:
		return "system"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is one server push. Exactly one of the payload fields is set,
// matching Kind.
type Event struct {
	Kind    EventKind
	Message *proto.Message
	System  *proto.SystemNotice
	Status  *proto.Status
}
