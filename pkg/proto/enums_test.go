package proto

import "testing"

func TestActionValues(t *testing.T) {
	// Wire values are fixed by the protocol; catch accidental renumbering.
	tests := []struct {
		action Action
		value  int
		name   string
	}{
		{ActionLogin, 0, "login"},
		{ActionRegister, 1, "register"},
		{ActionMessage, 2, "message"},
		{ActionLogout, 3, "logout"},
		{ActionSwitchChannel, 4, "switch_channel"},
		{ActionIsLoggedIn, 5, "is_logged_in"},
		{ActionIsRegistered, 6, "is_registered"},
		{ActionAllPeers, 7, "all_peers"},
		{ActionPrivateRequest, 8, "private_request"},
		{ActionPrivateConfirm, 9, "private_confirm"},
		{ActionPrivateAbort, 10, "private_abort"},
		{ActionPrivatePubKey, 11, "private_pubkey"},
	}
	for _, tt := range tests {
		if int(tt.action) != tt.value {
			t.Errorf("%s = %d, want %d", tt.name, int(tt.action), tt.value)
		}
		if tt.action.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.action.String(), tt.name)
		}
		if !tt.action.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", tt.name)
		}
	}
	if ActionUnknown.IsValid() {
		t.Error("ActionUnknown.IsValid() = true, want false")
	}
}

func TestCodeValues(t *testing.T) {
	tests := []struct {
		code  Code
		value int
	}{
		{CodeSuccess, 0},
		{CodeWrongPassword, 1},
		{CodeNotRegistered, 2},
		{CodeAlreadyRegistered, 3},
		{CodeAlreadyLoggedIn, 4},
		{CodeInvalidForm, 5},
		{CodeInvalidQuery, 6},
		{CodeUnauthorized, 7},
		{CodeWrongChannel, 8},
		{CodeSameChannel, 9},
		{CodeTerminate, 99},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.value {
			t.Errorf("%v = %d, want %d", tt.code, int(tt.code), tt.value)
		}
		if !tt.code.IsValid() {
			t.Errorf("%v.IsValid() = false, want true", tt.code)
		}
	}
	if Code(10).IsValid() {
		t.Error("Code(10).IsValid() = true, want false")
	}
}

func TestReservedIDs(t *testing.T) {
	if UnknownID != 0 || ServerID != 1 || FirstAccountID != 1000 {
		t.Errorf("reserved ids = %d/%d/%d, want 0/1/1000",
			UnknownID, ServerID, FirstAccountID)
	}
	if ValidChannel(ChannelPrivate) {
		t.Error("ValidChannel(ChannelPrivate) = true, want false")
	}
	if !ValidChannel(ChannelDefault) {
		t.Error("ValidChannel(ChannelDefault) = false, want true")
	}
}
