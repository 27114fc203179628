package transport

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-call/pkg/call"
)

type recordingHandler struct {
	mu          sync.Mutex
	events      []Event
	protoErrors []error
	errs        []error
	closed      chan struct{}
	eventCh     chan Event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{}), eventCh: make(chan Event, 16)}
}

func (h *recordingHandler) HandleEvent(e Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	h.eventCh <- e
}

func (h *recordingHandler) HandleProtocolError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.protoErrors = append(h.protoErrors, err)
}

func (h *recordingHandler) HandleError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) HandleClose() { close(h.closed) }

func newWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	return wsURL, server.Close
}

func waitClosed(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not closed")
	}
}

func TestConn_ClassifiesInboundFrames(t *testing.T) {
	t.Parallel()

	wav := []byte("RIFF-fake-wav")
	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "user_transcript", "text": "hello"})
		_ = conn.WriteJSON(map[string]any{"type": "ai_transcript", "text": "hi there"})
		_ = conn.WriteJSON(map[string]any{"type": "audio_response", "audio": base64.StdEncoding.EncodeToString(wav), "complete": true})
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "complete"})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		_ = conn.WriteJSON(map[string]any{"type": "something_new", "x": 1})
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "boom"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	})
	defer closeServer()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := Dial(ctx, serverURL, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	h := newRecordingHandler()
	conn.Start(h)
	waitClosed(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	wantTypes := []string{"user_transcript", "ai_transcript", "audio_response", "status", "something_new", "error"}
	if len(h.events) != len(wantTypes) {
		t.Fatalf("events=%d, want %d (%#v)", len(h.events), len(wantTypes), h.events)
	}
	for i, want := range wantTypes {
		if got := EventType(h.events[i]); got != want {
			t.Fatalf("events[%d]=%q, want %q", i, got, want)
		}
	}
	audio, ok := h.events[2].(AudioEvent)
	if !ok {
		t.Fatalf("events[2]=%T, want AudioEvent", h.events[2])
	}
	if string(audio.Audio) != string(wav) || !audio.Complete {
		t.Fatalf("audio=%q complete=%v", audio.Audio, audio.Complete)
	}
	if len(h.errs) != 0 {
		t.Fatalf("errs=%v, want none on normal close", h.errs)
	}
}

func TestConn_MalformedFrameIsReportedAndReadingContinues(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(map[string]any{"type": "audio_response", "audio": "!!!"})
		_ = conn.WriteJSON(map[string]any{"type": "ai_transcript", "text": "still here"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	h := newRecordingHandler()
	conn.Start(h)
	waitClosed(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.protoErrors) != 2 {
		t.Fatalf("protocol errors=%d, want 2", len(h.protoErrors))
	}
	for _, err := range h.protoErrors {
		if !call.IsKind(err, call.ErrProtocol) {
			t.Fatalf("err=%v, want protocol_error", err)
		}
	}
	if len(h.events) != 1 || EventType(h.events[0]) != "ai_transcript" {
		t.Fatalf("events=%#v, want one ai_transcript", h.events)
	}
}

func TestConn_SendsPageUpdateAndClip(t *testing.T) {
	t.Parallel()

	type frame struct {
		kind int
		data []byte
	}
	frames := make(chan frame, 2)
	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for i := 0; i < 2; i++ {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- frame{kind: kind, data: data}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()
	conn.Start(newRecordingHandler())

	if err := conn.SendPageUpdate("Page: Test"); err != nil {
		t.Fatalf("SendPageUpdate error: %v", err)
	}
	if err := conn.SendClip([]byte{9, 8, 7}); err != nil {
		t.Fatalf("SendClip error: %v", err)
	}

	first := <-frames
	if first.kind != websocket.TextMessage {
		t.Fatalf("first kind=%d, want text", first.kind)
	}
	if string(first.data) != `{"type":"page_update","content":"Page: Test"}`+"\n" {
		t.Fatalf("first=%q", first.data)
	}
	second := <-frames
	if second.kind != websocket.BinaryMessage || string(second.data) != string([]byte{9, 8, 7}) {
		t.Fatalf("second kind=%d data=%v", second.kind, second.data)
	}
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	h := newRecordingHandler()
	conn.Start(h)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	waitClosed(t, h)

	err = conn.SendClip([]byte{1})
	if !call.IsKind(err, call.ErrConnection) {
		t.Fatalf("err=%v, want connection_error", err)
	}
	if len(h.errs) != 0 {
		t.Fatalf("errs=%v, want none after local close", h.errs)
	}
}

func TestDial_UnreachableServerIsConnectionError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	server.Close()

	_, err := Dial(context.Background(), wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if !call.IsKind(err, call.ErrConnection) {
		t.Fatalf("err=%v, want connection_error", err)
	}
}

func TestDial_HandshakeWaitsOnlyForContext(t *testing.T) {
	t.Parallel()

	d := newDialer()
	if d.HandshakeTimeout != 0 {
		t.Fatalf("HandshakeTimeout=%s, want none", d.HandshakeTimeout)
	}
	if d.Proxy == nil {
		t.Fatalf("expected proxy from environment")
	}

	// A listener that accepts but never answers the upgrade.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, "ws://"+ln.Addr().String()+"/ws", nil)
	if !call.IsKind(err, call.ErrConnection) {
		t.Fatalf("err=%v, want connection_error once ctx expires", err)
	}
}
