package proto

import "strconv"

// Action identifies the request kind a status or system frame refers to.
// The value echoes the request path enum on the wire.
type Action int

const (
	// ActionLogin is POST /login.
	ActionLogin Action = 0

	// ActionRegister is POST /register.
	ActionRegister Action = 1

	// ActionMessage is POST /message.
	ActionMessage Action = 2

	// ActionLogout is DELETE /logout.
	ActionLogout Action = 3

	// ActionSwitchChannel is PUT /switch_channel.
	ActionSwitchChannel Action = 4

	// ActionIsLoggedIn is GET /is_logged_in.
	ActionIsLoggedIn Action = 5

	// ActionIsRegistered is GET /is_registered.
	ActionIsRegistered Action = 6

	// ActionAllPeers is GET /all_peers.
	ActionAllPeers Action = 7

	// ActionPrivateRequest is POST /private_request (E2EE extension).
	ActionPrivateRequest Action = 8

	// ActionPrivateConfirm is POST /private_confirm (E2EE extension).
	ActionPrivateConfirm Action = 9

	// ActionPrivateAbort is POST /private_abort (E2EE extension).
	ActionPrivateAbort Action = 10

	// ActionPrivatePubKey is POST /private_pubkey (E2EE extension).
	ActionPrivatePubKey Action = 11

	// ActionUnknown is used when a request could not be attributed to any
	// known endpoint.
	ActionUnknown Action = -1
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionLogin:
		return "login"
	case ActionRegister:
		return "register"
	case ActionMessage:
		return "message"
	case ActionLogout:
		return "logout"
	case ActionSwitchChannel:
		return "switch_channel"
	case ActionIsLoggedIn:
		return "is_logged_in"
	case ActionIsRegistered:
		return "is_registered"
	case ActionAllPeers:
		return "all_peers"
	case ActionPrivateRequest:
		return "private_request"
	case ActionPrivateConfirm:
		return "private_confirm"
	case ActionPrivateAbort:
		return "private_abort"
	case ActionPrivatePubKey:
		return "private_pubkey"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// IsValid returns true if the action is a defined request kind.
func (a Action) IsValid() bool {
	return a >= ActionLogin && a <= ActionPrivatePubKey
}

// Code is the protocol status carried in every status response.
type Code int

const (
	// CodeSuccess indicates the request was performed.
	CodeSuccess Code = 0

	// CodeWrongPassword rejects a login whose password does not match.
	CodeWrongPassword Code = 1

	// CodeNotRegistered rejects a login for an unknown login or e-mail.
	CodeNotRegistered Code = 2

	// CodeAlreadyRegistered rejects a register for a taken login or e-mail.
	CodeAlreadyRegistered Code = 3

	// CodeAlreadyLoggedIn rejects a login while a session is already live.
	CodeAlreadyLoggedIn Code = 4

	// CodeInvalidForm rejects a request whose JSON body failed validation.
	CodeInvalidForm Code = 5

	// CodeInvalidQuery rejects a request whose query string failed validation.
	CodeInvalidQuery Code = 6

	// CodeUnauthorized rejects a request whose id/token do not match a live
	// session, or private traffic outside an established handshake.
	CodeUnauthorized Code = 7

	// CodeWrongChannel rejects a switch to a channel outside the valid domain.
	CodeWrongChannel Code = 8

	// CodeSameChannel rejects a switch to the channel the peer is already on.
	CodeSameChannel Code = 9

	// CodeTerminate is broadcast to every live peer when the server shuts down.
	CodeTerminate Code = 99
)

// String returns a human-readable name for the status code.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeWrongPassword:
		return "wrong password"
	case CodeNotRegistered:
		return "not registered"
	case CodeAlreadyRegistered:
		return "already registered"
	case CodeAlreadyLoggedIn:
		return "already logged in"
	case CodeInvalidForm:
		return "invalid form"
	case CodeInvalidQuery:
		return "invalid query"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeWrongChannel:
		return "wrong channel"
	case CodeSameChannel:
		return "same channel"
	case CodeTerminate:
		return "terminate"
	default:
		return "unknown(" + strconv.Itoa(int(c)) + ")"
	}
}

// IsValid returns true if the code is a defined status value.
func (c Code) IsValid() bool {
	return (c >= CodeSuccess && c <= CodeSameChannel) || c == CodeTerminate
}

// ChannelMove qualifies presence announcements: whether the subject peer is
// entering or leaving the channel the recipient can see.
type ChannelMove int

const (
	// MoveEnter marks a peer appearing on the recipient's channel.
	MoveEnter ChannelMove = 0

	// MoveExit marks a peer disappearing from the recipient's channel.
	MoveExit ChannelMove = 1
)

// String returns a human-readable name for the move direction.
func (m ChannelMove) String() string {
	switch m {
	case MoveEnter:
		return "enter"
	case MoveExit:
		return "exit"
	default:
		return "unknown"
	}
}

// IsValid returns true if the move direction is a defined value.
func (m ChannelMove) IsValid() bool {
	return m == MoveEnter || m == MoveExit
}
