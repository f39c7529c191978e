package transport

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
)

func newTestWS(t *testing.T) (*WS, *chanHandler) {
	t.Helper()
	h := newChanHandler()
	ws, err := NewWS(WSConfig{
		Address: "127.0.0.1:0",
		Handler: h,
	})
	if err != nil {
		t.Fatalf("NewWS() error = %v", err)
	}
	if err := ws.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { ws.Stop() })
	return ws, h
}

func dialWS(t *testing.T, ws *WS) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s%s", ws.Addr(), DefaultWSPath)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	return conn
}

func TestNewWS(t *testing.T) {
	t.Run("without handler", func(t *testing.T) {
		_, err := NewWS(WSConfig{Address: "127.0.0.1:0"})
		if err != ErrNoHandler {
			t.Errorf("NewWS() error = %v, want %v", err, ErrNoHandler)
		}
	})
}

func TestWSFrameRoundtrip(t *testing.T) {
	ws, h := newTestWS(t)

	client := dialWS(t, ws)
	defer client.Close()

	req := frame.NewRequest("POST", "/login", nil, []byte(`{"login":"alice","password":"secret"}`)).Encode()
	if err := client.WriteMessage(websocket.BinaryMessage, req); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	ev := waitFrame(t, h)
	if ev.f.Method != "POST" || ev.f.Path != "/login" {
		t.Fatalf("frame = %s %s, want POST /login", ev.f.Method, ev.f.Path)
	}

	// The server pushes back through the same Conn.
	payload := []byte(`{"code":0,"action":0,"id":1000,"token":"tok","payload":""}`)
	if err := ev.conn.Enqueue(frame.NewResponse(payload).Encode()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	frames, rest, perrs := frame.Split(data)
	if len(frames) != 1 || len(rest) != 0 || len(perrs) != 0 {
		t.Fatalf("Split() = %d frames, rest=%d, perrs=%d, want one clean response", len(frames), len(rest), len(perrs))
	}
	if !bytes.Equal(frames[0].Body, payload) {
		t.Errorf("response body = %s, want %s", frames[0].Body, payload)
	}
}

func TestWSSplitFrameAcrossMessages(t *testing.T) {
	ws, h := newTestWS(t)

	client := dialWS(t, ws)
	defer client.Close()

	// A frame split across two WebSocket messages reassembles exactly like
	// a TCP read boundary.
	full := frame.NewRequest("POST", "/message", nil, []byte(`{"id":1000,"message":"over websocket"}`)).Encode()
	half := len(full) / 2
	if err := client.WriteMessage(websocket.BinaryMessage, full[:half]); err != nil {
		t.Fatalf("WriteMessage() first half error = %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, full[half:]); err != nil {
		t.Fatalf("WriteMessage() second half error = %v", err)
	}

	ev := waitFrame(t, h)
	if got, want := string(ev.f.Body), `{"id":1000,"message":"over websocket"}`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestWSDisconnect(t *testing.T) {
	ws, h := newTestWS(t)

	client := dialWS(t, ws)
	client.Close()

	select {
	case <-h.disconnects:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for disconnect")
	}
	select {
	case reason := <-h.disconnects:
		t.Fatalf("disconnect reported twice, second reason = %v", reason)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSStartStop(t *testing.T) {
	h := newChanHandler()
	ws, err := NewWS(WSConfig{Address: "127.0.0.1:0", Handler: h})
	if err != nil {
		t.Fatalf("NewWS() error = %v", err)
	}
	if err := ws.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ws.Start(); err != ErrAlreadyStarted {
		t.Errorf("Start() second call error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := ws.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := ws.Stop(); err != ErrClosed {
		t.Errorf("Stop() second call error = %v, want %v", err, ErrClosed)
	}
}
