// Package proto defines the wire-level vocabulary of the chat protocol:
// peer and channel identifiers, action and status enums, and the JSON
// payload shapes carried inside HTTP-framed requests and responses.
//
// The package provides:
//   - ID, channel, and reserved-value constants
//   - Action, Code, and ChannelMove enums
//   - JSON payload types (Status, Check, PeerList, SystemNotice, Message)
//   - System payload encoding (login=..&email=..&channel_move=..)
//   - Login and e-mail form validation
package proto

// ID identifies an account and its live peer session.
// Values below FirstAccountID are reserved for the protocol itself.
type ID int64

// Reserved identifiers.
const (
	// UnknownID marks an absent or unresolved peer (broadcast dest).
	UnknownID ID = 0

	// ServerID is the identity used by server-originated frames.
	ServerID ID = 1

	// FirstAccountID is the first identifier handed to a registered account.
	FirstAccountID ID = 1000
)

// Channel values. Valid client-visible channels are non-negative integers;
// the set is open and channels come into existence on first use.
const (
	// ChannelDefault is the channel every peer joins on login.
	ChannelDefault = 0

	// ChannelPrivate is the reserved sentinel for peers inside an active
	// private session. Peers on it are not listed on any broadcast channel.
	ChannelPrivate = -1
)

// ValidChannel reports whether ch is a channel a client may occupy or query.
func ValidChannel(ch int) bool {
	return ch >= 0
}
