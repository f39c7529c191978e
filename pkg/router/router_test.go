package router

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
	"github.com/orcchg/ChatServer-sub000/pkg/registry"
	"github.com/orcchg/ChatServer-sub000/pkg/store"
)

// captureSocket records every enqueued frame.
type captureSocket struct {
	key uint64

	mu     sync.Mutex
	queued [][]byte
	closed bool
	fail   bool
}

func (s *captureSocket) Key() uint64          { return s.key }
func (s *captureSocket) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (s *captureSocket) Enqueue(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("queue full")
	}
	s.queued = append(s.queued, b)
	return nil
}
func (s *captureSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// frames decodes everything the socket received.
func (s *captureSocket) frames(t *testing.T) []*frame.Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*frame.Frame
	for _, b := range s.queued {
		fs, residual, errs := frame.Split(b)
		if len(errs) > 0 || len(residual) > 0 {
			t.Fatalf("received frame did not parse cleanly: errs=%v residual=%q", errs, residual)
		}
		out = append(out, fs...)
	}
	return out
}

type fixture struct {
	reg    *registry.Manager
	router *Router
	socks  map[string]*captureSocket
	ids    map[string]proto.ID
}

// newFixture registers the given logins, each on its own capture socket.
func newFixture(t *testing.T, logins ...string) *fixture {
	t.Helper()
	reg, err := registry.New(registry.Config{Accounts: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	r, err := New(Config{Roster: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f := &fixture{reg: reg, router: r, socks: map[string]*captureSocket{}, ids: map[string]proto.ID{}}
	for i, login := range logins {
		sock := &captureSocket{key: uint64(i + 1)}
		sess, err := reg.Register(login, login+"@x.ru", "x", sock)
		if err != nil {
			t.Fatalf("Register %s: %v", login, err)
		}
		f.socks[login] = sock
		f.ids[login] = sess.ID
	}
	return f
}

func decodeMessage(t *testing.T, f *frame.Frame) proto.Message {
	t.Helper()
	var m proto.Message
	if err := json.Unmarshal(f.Body, &m); err != nil {
		t.Fatalf("decode message body %q: %v", f.Body, err)
	}
	return m
}

func TestBroadcastExcludesSenderAndOtherChannels(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	if _, err := f.reg.SwitchChannel(f.ids["carol"], 7); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}

	msg := &proto.Message{ID: f.ids["alice"], Login: "alice", Channel: 0, Body: "hello"}
	n, err := f.router.Broadcast(msg)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}

	if got := len(f.socks["alice"].frames(t)); got != 0 {
		t.Errorf("sender received %d frames, want 0 (self-delivery suppressed)", got)
	}
	if got := len(f.socks["carol"].frames(t)); got != 0 {
		t.Errorf("carol on channel 7 received %d frames, want 0", got)
	}
	frames := f.socks["bob"].frames(t)
	if len(frames) != 1 {
		t.Fatalf("bob received %d frames, want 1", len(frames))
	}
	if got := decodeMessage(t, frames[0]); got.Body != "hello" || got.ID != f.ids["alice"] {
		t.Errorf("bob received %+v, want body hello from alice", got)
	}
}

func TestDirectMessageCrossesChannels(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	if _, err := f.reg.SwitchChannel(f.ids["bob"], 7); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}

	msg := &proto.Message{ID: f.ids["alice"], Login: "alice", Channel: 0, DestID: f.ids["bob"], Body: "psst"}
	if _, err := f.router.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast direct: %v", err)
	}
	frames := f.socks["bob"].frames(t)
	if len(frames) != 1 {
		t.Fatalf("bob received %d frames, want 1", len(frames))
	}
	if got := decodeMessage(t, frames[0]); got.Body != "psst" {
		t.Errorf("bob received body %q, want psst", got.Body)
	}
}

func TestDirectMessageToOfflinePeer(t *testing.T) {
	f := newFixture(t, "alice")
	msg := &proto.Message{ID: f.ids["alice"], DestID: proto.ID(4242), Body: "psst"}
	if _, err := f.router.Broadcast(msg); !errors.Is(err, ErrPeerOffline) {
		t.Errorf("Broadcast to offline peer err = %v, want ErrPeerOffline", err)
	}
}

func TestPerSenderOrderingToEachRecipient(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	const n = 50
	for i := 0; i < n; i++ {
		msg := &proto.Message{ID: f.ids["alice"], Login: "alice", Channel: 0, Size: i, Body: "m"}
		if _, err := f.router.Broadcast(msg); err != nil {
			t.Fatalf("Broadcast %d: %v", i, err)
		}
	}

	frames := f.socks["bob"].frames(t)
	if len(frames) != n {
		t.Fatalf("bob received %d frames, want %d", len(frames), n)
	}
	for i, fr := range frames {
		if got := decodeMessage(t, fr); got.Size != i {
			t.Fatalf("frame %d carries sequence %d, want %d (order violated)", i, got.Size, i)
		}
	}
}

func TestBroadcastSurvivesFailedSubscriber(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	f.socks["bob"].mu.Lock()
	f.socks["bob"].fail = true
	f.socks["bob"].mu.Unlock()

	msg := &proto.Message{ID: f.ids["alice"], Login: "alice", Channel: 0, Body: "hello"}
	n, err := f.router.Broadcast(msg)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1 (carol only)", n)
	}
	if !f.socks["bob"].closed {
		t.Error("failed subscriber was not marked for teardown")
	}
	if got := len(f.socks["carol"].frames(t)); got != 1 {
		t.Errorf("carol received %d frames, want 1", got)
	}
}

func TestAnnounceMoveReachesBothChannels(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	if _, err := f.reg.SwitchChannel(f.ids["carol"], 7); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}

	// bob moves 0 -> 7: alice sees EXIT, carol sees ENTER.
	old, err := f.reg.SwitchChannel(f.ids["bob"], 7)
	if err != nil {
		t.Fatalf("SwitchChannel bob: %v", err)
	}
	info, _ := f.reg.PeerByID(f.ids["bob"])
	f.router.AnnounceMove(info, old)

	check := func(login string, wantMove proto.ChannelMove) {
		frames := f.socks[login].frames(t)
		if len(frames) != 1 {
			t.Fatalf("%s received %d frames, want 1", login, len(frames))
		}
		var notice proto.SystemNotice
		if err := json.Unmarshal(frames[0].Body, &notice); err != nil {
			t.Fatalf("decode notice: %v", err)
		}
		fields, err := proto.ParseSystemPayload(notice.Payload)
		if err != nil {
			t.Fatalf("parse payload %q: %v", notice.Payload, err)
		}
		if notice.Action != proto.ActionSwitchChannel || fields.Move != wantMove || fields.Login != "bob" {
			t.Errorf("%s saw %+v / %+v, want switch_channel move=%v for bob", login, notice, fields, wantMove)
		}
	}
	check("alice", proto.MoveExit)
	check("carol", proto.MoveEnter)
	if got := len(f.socks["bob"].frames(t)); got != 0 {
		t.Errorf("bob received %d frames about his own move, want 0", got)
	}
}

func TestRosterFiltersByChannel(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	if _, err := f.reg.SwitchChannel(f.ids["bob"], 7); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}

	ch := 7
	list := f.router.Roster(&ch)
	if len(list.Peers) != 1 || list.Peers[0].Login != "bob" {
		t.Errorf("roster(7) = %+v, want bob only", list.Peers)
	}
	if list.Channel == nil || *list.Channel != 7 {
		t.Errorf("roster channel = %v, want 7", list.Channel)
	}

	all := f.router.Roster(nil)
	if len(all.Peers) != 2 {
		t.Errorf("roster(nil) has %d peers, want 2", len(all.Peers))
	}
	if all.Channel != nil {
		t.Errorf("roster(nil) channel = %v, want absent", all.Channel)
	}
}

func TestAnnounceTerminateReachesEveryone(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.router.AnnounceTerminate("server going down")

	for login, sock := range f.socks {
		frames := sock.frames(t)
		if len(frames) != 1 {
			t.Fatalf("%s received %d frames, want 1", login, len(frames))
		}
		var st proto.Status
		if err := json.Unmarshal(frames[0].Body, &st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if st.Code != proto.CodeTerminate || st.ID != proto.ServerID {
			t.Errorf("%s saw %+v, want code 99 from server", login, st)
		}
	}
}
