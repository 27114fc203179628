// Package transport owns the websocket to the conversational service. It
// serializes outbound frames and classifies inbound ones; it never decides
// what an event means for the session.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-call/pkg/call"
	"github.com/vango-go/vai-call/pkg/call/protocol"
)

// Handler receives everything the read loop observes. Calls come from the
// read goroutine, one at a time.
type Handler interface {
	// HandleEvent receives a classified inbound frame.
	HandleEvent(Event)
	// HandleProtocolError receives a frame that was dropped as malformed.
	HandleProtocolError(error)
	// HandleError receives a socket failure. It is followed by HandleClose.
	HandleError(error)
	// HandleClose is the last call the handler receives.
	HandleClose()
}

// Conn is one websocket connection. It is never reused: a reopened session
// dials a new Conn.
type Conn struct {
	conn   *websocket.Conn
	url    string
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	started   atomic.Bool
	done      chan struct{}
}

// Dial opens a websocket to rawURL. No timeout is applied beyond ctx; unlike
// websocket.DefaultDialer the handshake has no deadline of its own.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := newDialer()
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, call.NewConnectionError(fmt.Sprintf("websocket dial %s failed (status %d)", rawURL, resp.StatusCode), err)
		}
		return nil, call.NewConnectionError("websocket dial "+rawURL+" failed", err)
	}
	return &Conn{
		conn:   conn,
		url:    rawURL,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func newDialer() *websocket.Dialer {
	return &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
}

// Start begins reading frames and delivering them to h. It may be called once.
func (c *Conn) Start(h Handler) {
	if c == nil || h == nil {
		return
	}
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.readLoop(h)
}

// SendPageUpdate sends the page context control frame.
func (c *Conn) SendPageUpdate(content string) error {
	return c.sendJSON(protocol.NewPageUpdate(content))
}

// SendClip sends one finalized recording as a single binary frame.
func (c *Conn) SendClip(data []byte) error {
	if c == nil {
		return fmt.Errorf("connection must not be nil")
	}
	if c.closed.Load() {
		return call.NewConnectionError("send clip", fmt.Errorf("connection is closed"))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return call.NewConnectionError("send clip", err)
	}
	return nil
}

func (c *Conn) sendJSON(v any) error {
	if c == nil {
		return fmt.Errorf("connection must not be nil")
	}
	if c.closed.Load() {
		return call.NewConnectionError("send control frame", fmt.Errorf("connection is closed"))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return call.NewConnectionError("send control frame", err)
	}
	return nil
}

// Close sends a normal close frame, closes the socket, and waits for the
// read loop to exit.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	if c.started.Load() {
		<-c.done
	}
	return nil
}

// Done is closed when the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(h Handler) {
	defer close(c.done)
	defer h.HandleClose()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			h.HandleError(call.NewConnectionError("websocket read", err))
			return
		}

		switch messageType {
		case websocket.TextMessage:
			event, frameErr := decodeTextFrame(data)
			if frameErr != nil {
				h.HandleProtocolError(frameErr)
				continue
			}
			h.HandleEvent(event)
		default:
			c.logger.Debug("ignoring non-text frame", "message_type", messageType, "bytes", len(data))
		}
	}
}

func decodeTextFrame(data []byte) (Event, error) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		return nil, call.NewProtocolError("decode inbound frame", err)
	}
	switch m := msg.(type) {
	case protocol.ServerUserTranscript:
		return UserTranscriptEvent{Text: m.Text}, nil
	case protocol.ServerAITranscript:
		return AssistantTranscriptEvent{Text: m.Text}, nil
	case protocol.ServerAudioResponse:
		audio, err := m.DecodeAudio()
		if err != nil {
			return nil, call.NewProtocolError("decode audio_response", err)
		}
		return AudioEvent{Audio: audio, Complete: m.Complete}, nil
	case protocol.ServerStatus:
		return StatusEvent{Message: m.Message}, nil
	case protocol.ServerError:
		return ErrorEvent{Message: m.Message}, nil
	case protocol.ServerContextUpdated:
		return ContextUpdatedEvent{}, nil
	case protocol.ServerPong:
		return PongEvent{}, nil
	case protocol.ServerUnknown:
		return UnknownEvent{Type: m.Type, Raw: m.Raw}, nil
	default:
		return nil, call.NewProtocolError(fmt.Sprintf("unhandled frame %T", msg), nil)
	}
}
