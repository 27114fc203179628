// Package session drives one live voice conversation. It owns the socket,
// the capture controller, and the playback queue, and is the only place
// that decides what an inbound event means.
//
// All state is confined to the event loop. The exported commands post work
// to the loop and return immediately.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/vai-call/pkg/call"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/eventloop"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/call/playback"
	"github.com/vango-go/vai-call/pkg/call/transport"
)

// DefaultMinClipBytes matches the smallest upload the server will transcribe.
const DefaultMinClipBytes = 1000

// Conn is the transport connection as the session uses it.
type Conn interface {
	Start(h transport.Handler)
	SendPageUpdate(content string) error
	SendClip(data []byte) error
	Close() error
}

// Dialer opens a new connection. It runs off the event loop.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Observer is notified on the event loop goroutine and must not block.
type Observer interface {
	StatusChanged(call.Status)
	ConnectionChanged(call.ConnectionState)
	TranscriptAppended(call.TranscriptEntry)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(call.Status)               {}
func (nopObserver) ConnectionChanged(call.ConnectionState)  {}
func (nopObserver) TranscriptAppended(call.TranscriptEntry) {}

type Options struct {
	ServerURL    string
	PageContent  string
	// MinClipBytes is the smallest clip that is sent. Zero or less means
	// DefaultMinClipBytes.
	MinClipBytes int
	SegmentGap   time.Duration
	Constraints  capture.Constraints

	Dial     Dialer
	Device   capture.Device
	Player   playback.Player
	Observer Observer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Snapshot is a consistent read of session state.
type Snapshot struct {
	ID         string
	Status     call.Status
	Connection call.ConnectionState
	Transcript []call.TranscriptEntry
	Capture    capture.State
	Queued     int
	Playing    bool
}

type Session struct {
	loop    *eventloop.Loop
	opts    Options
	logger  *slog.Logger
	obs     Observer
	metrics *metrics.Metrics
	now     func() time.Time

	// Loop-confined state.
	id         string
	status     call.Status
	connState  call.ConnectionState
	conn       Conn
	connGen    uint64
	dialCancel context.CancelFunc
	transcript call.Transcript
	capture    *capture.Controller
	queue      *playback.Queue
	lifetime   context.Context
	stop       context.CancelFunc

	// closing tracks sockets being closed off the loop.
	closing sync.WaitGroup
}

func New(loop *eventloop.Loop, opts Options) (*Session, error) {
	if loop == nil {
		return nil, errors.New("event loop must not be nil")
	}
	if opts.ServerURL == "" {
		return nil, errors.New("server url must not be empty")
	}
	if opts.Device == nil {
		return nil, errors.New("capture device must not be nil")
	}
	if opts.Player == nil {
		return nil, errors.New("player must not be nil")
	}
	if opts.MinClipBytes <= 0 {
		opts.MinClipBytes = DefaultMinClipBytes
	}
	if opts.SegmentGap <= 0 {
		opts.SegmentGap = playback.DefaultGap
	}
	if opts.Constraints == (capture.Constraints{}) {
		opts.Constraints = capture.DefaultConstraints()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, url string) (Conn, error) {
			conn, err := transport.Dial(ctx, url, logger)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	lifetime, stop := context.WithCancel(context.Background())
	s := &Session{
		loop:      loop,
		opts:      opts,
		logger:    logger,
		obs:       obs,
		metrics:   opts.Metrics,
		now:       now,
		status:    call.StatusReady,
		connState: call.ConnectionClosed,
		lifetime:  lifetime,
		stop:      stop,
	}
	s.capture = capture.NewController(opts.Device, loop, opts.Constraints, logger)
	return s, nil
}

// Open starts a new connection unless one is already connecting or open.
func (s *Session) Open() error { return s.post(s.open) }

// ToggleRecording starts recording when idle and stops it when recording.
func (s *Session) ToggleRecording() error { return s.post(s.toggle) }

// Close stops capture, cancels playback, and closes the connection, in that
// order. The session can be opened again afterwards.
func (s *Session) Close() error { return s.post(s.close) }

// Shutdown closes the session, cancels any device request in flight, and
// waits for the socket to finish closing or for ctx to end. If the loop has
// already exited, the close runs on the caller's goroutine once Run has
// returned, so the loop must have been started.
func (s *Session) Shutdown(ctx context.Context) error {
	err := s.loop.Call(ctx, func() {
		s.close()
		s.stop()
	})
	if errors.Is(err, eventloop.ErrStopped) {
		<-s.loop.Done()
		s.close()
		s.stop()
		err = nil
	}
	if err != nil {
		return err
	}

	closed := make(chan struct{})
	go func() {
		s.closing.Wait()
		close(closed)
	}()
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Call(ctx, func() { snap = s.snapshot() })
	return snap, err
}

func (s *Session) post(fn func()) error {
	if !s.loop.Post(fn) {
		return eventloop.ErrStopped
	}
	return nil
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Status:     s.status,
		Connection: s.connState,
		Transcript: s.transcript.Entries(),
		Capture:    s.capture.State(),
	}
	if s.queue != nil {
		snap.Queued = s.queue.Len()
		snap.Playing = s.queue.Playing()
	}
	return snap
}

func (s *Session) log() *slog.Logger {
	return s.logger.With("session_id", s.id)
}

func (s *Session) open() {
	if s.connState != call.ConnectionClosed {
		s.log().Debug("open ignored", "connection", s.connState)
		return
	}

	if s.queue != nil {
		s.queue.Close()
	}
	s.id = uuid.NewString()
	s.connGen++
	gen := s.connGen
	s.queue = playback.NewQueue(s.opts.Player, s.loop, playback.Options{
		Gap:    s.opts.SegmentGap,
		Logger: s.log(),
		Hooks: playback.Hooks{
			OnBusy:   s.playbackBusy,
			OnIdle:   s.playbackIdle,
			OnPlayed: func(_ playback.Segment, err error) { s.metrics.RecordSegmentPlayed(err) },
		},
	})
	s.setConnection(call.ConnectionConnecting)
	s.log().Info("connecting", "url", s.opts.ServerURL)

	ctx, cancel := context.WithCancel(s.lifetime)
	s.dialCancel = cancel
	dial := s.opts.Dial
	url := s.opts.ServerURL
	go func() {
		conn, err := dial(ctx, url)
		if !s.loop.Post(func() { s.dialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Session) dialed(gen uint64, conn Conn, err error) {
	if gen != s.connGen {
		if conn != nil {
			go conn.Close()
		}
		return
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if err != nil {
		s.metrics.RecordSession("error")
		s.log().Warn("connect failed", "error", err)
		s.appendSystem(fmt.Sprintf("Failed to connect: %v", err))
		s.capture.Abort()
		s.setConnection(call.ConnectionClosed)
		s.setStatus(call.StatusReady)
		return
	}

	s.conn = conn
	s.metrics.RecordSession("open")
	s.setConnection(call.ConnectionOpen)
	conn.Start(&connHandler{s: s, gen: gen})

	if err := conn.SendPageUpdate(s.opts.PageContent); err != nil {
		s.connectionFailed(gen, err)
		return
	}
	s.log().Info("connected", "page_bytes", len(s.opts.PageContent))
}

func (s *Session) close() {
	aborted := s.capture.Abort()
	if s.queue != nil {
		s.queue.Close()
	}
	s.connGen++
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.conn != nil {
		// The read goroutine may be blocked posting to this loop, so Close
		// must not wait here.
		s.closeConn()
	}
	if s.connState != call.ConnectionClosed {
		s.log().Info("session closed", "capture_aborted", aborted)
	}
	s.setConnection(call.ConnectionClosed)
	s.setStatus(call.StatusReady)
}

func (s *Session) toggle() {
	switch state := s.capture.State(); state {
	case capture.StateIdle:
		s.startRecording()
	case capture.StateRecording:
		s.stopRecording()
	default:
		s.log().Debug("toggle ignored", "capture", state.String())
	}
}

func (s *Session) startRecording() {
	if err := s.capture.Start(s.lifetime, s.recordingStarted); err != nil {
		s.log().Debug("start recording ignored", "error", err)
	}
}

func (s *Session) recordingStarted(err error) {
	if err != nil {
		s.log().Warn("microphone unavailable", "error", err)
		if call.IsKind(err, call.ErrPermission) {
			s.appendSystem("Microphone access denied")
		} else {
			s.appendSystem(fmt.Sprintf("Microphone unavailable: %v", err))
		}
		s.setStatus(call.StatusReady)
		return
	}
	s.setStatus(call.StatusListening)
}

func (s *Session) stopRecording() {
	clip, ok := s.capture.Stop()
	if !ok {
		return
	}
	if s.queue != nil {
		s.queue.Cancel()
	}

	switch {
	case clip.Len() < s.opts.MinClipBytes:
		s.metrics.RecordClipDiscarded()
		s.log().Info("recording too short, discarded", "bytes", clip.Len(), "min_bytes", s.opts.MinClipBytes)
		s.appendSystem("Recording too short, nothing was sent")
		s.setStatus(call.StatusReady)
	case s.conn == nil || s.connState != call.ConnectionOpen:
		s.metrics.RecordClipDiscarded()
		s.log().Info("not connected, recording discarded", "bytes", clip.Len())
		s.appendSystem("Not connected, recording discarded")
		s.setStatus(call.StatusReady)
	default:
		if err := s.conn.SendClip(clip.WAV()); err != nil {
			s.connectionFailed(s.connGen, err)
			return
		}
		s.metrics.RecordClipSent(clip.Len())
		s.log().Info("clip sent", "bytes", clip.Len(), "duration", clip.Duration())
		s.setStatus(call.StatusProcessing)
	}
}

func (s *Session) handleEvent(event transport.Event) {
	if _, ok := event.(transport.UnknownEvent); ok {
		// Server-chosen type strings stay out of metric labels.
		s.metrics.RecordFrame("unknown")
	} else {
		s.metrics.RecordFrame(transport.EventType(event))
	}

	switch e := event.(type) {
	case transport.UserTranscriptEvent:
		s.appendEntry(call.SpeakerUser, e.Text)
	case transport.AssistantTranscriptEvent:
		s.appendEntry(call.SpeakerAssistant, e.Text)
	case transport.AudioEvent:
		seg, ok := s.queue.Enqueue(e.Audio)
		if !ok {
			return
		}
		s.metrics.RecordSegmentEnqueued()
		s.log().Debug("segment enqueued", "seq", seg.Seq, "bytes", len(e.Audio), "complete", e.Complete, "queued", s.queue.Len())
	case transport.StatusEvent:
		s.log().Debug("server status", "message", e.Message)
	case transport.ErrorEvent:
		s.serverError(e.Message)
	case transport.ContextUpdatedEvent:
		s.log().Info("page context acknowledged")
	case transport.PongEvent:
		s.log().Debug("pong")
	case transport.UnknownEvent:
		s.log().Debug("ignoring unknown frame", "type", e.Type)
	}
}

func (s *Session) serverError(message string) {
	err := call.NewServerError(message)
	s.metrics.RecordServerError()
	s.log().Warn("server reported error", "error", err)
	s.appendSystem("Error: " + message)
	if s.queue != nil {
		s.queue.Cancel()
	}
	s.capture.Abort()
	s.setStatus(call.StatusReady)
}

func (s *Session) connectionFailed(gen uint64, err error) {
	if gen != s.connGen || s.conn == nil {
		return
	}
	if _, ok := call.KindOf(err); !ok {
		err = call.NewConnectionError("connection failed", err)
	}
	s.log().Warn("connection error", "error", err)
	s.appendSystem(fmt.Sprintf("Connection error: %v", err))
	s.capture.Abort()
	s.setStatus(call.StatusReady)
	s.dropConnection()
}

func (s *Session) connectionClosed(gen uint64) {
	if gen != s.connGen {
		return
	}
	s.log().Info("connection closed by server")
	s.appendSystem("Disconnected")
	s.capture.Abort()
	if s.status != call.StatusSpeaking {
		s.setStatus(call.StatusReady)
	}
	s.dropConnection()
}

// dropConnection forgets the socket after a failure or a remote close.
// Playback already queued keeps draining.
func (s *Session) dropConnection() {
	s.connGen++
	if s.conn != nil {
		s.closeConn()
	}
	s.setConnection(call.ConnectionClosed)
}

func (s *Session) closeConn() {
	conn := s.conn
	s.conn = nil
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		if err := conn.Close(); err != nil {
			s.logger.Debug("close connection", "error", err)
		}
	}()
}

func (s *Session) playbackBusy() {
	if s.status == call.StatusReady || s.status == call.StatusProcessing {
		s.setStatus(call.StatusSpeaking)
	}
}

func (s *Session) playbackIdle() {
	if s.status == call.StatusSpeaking {
		s.setStatus(call.StatusReady)
	}
}

func (s *Session) setStatus(status call.Status) {
	if s.status == status {
		return
	}
	s.log().Debug("status changed", "from", s.status, "to", status)
	s.status = status
	s.metrics.SetStatus(status)
	s.obs.StatusChanged(status)
}

func (s *Session) setConnection(state call.ConnectionState) {
	if s.connState == state {
		return
	}
	s.connState = state
	s.obs.ConnectionChanged(state)
}

func (s *Session) appendEntry(speaker call.Speaker, text string) {
	entry := s.transcript.Append(speaker, text, s.now())
	s.obs.TranscriptAppended(entry)
}

func (s *Session) appendSystem(text string) {
	s.appendEntry(call.SpeakerSystem, text)
}

// connHandler moves transport callbacks onto the event loop and drops them
// once the connection they belong to has been replaced.
type connHandler struct {
	s   *Session
	gen uint64
}

func (h *connHandler) HandleEvent(e transport.Event) {
	h.s.loop.Post(func() {
		if h.gen != h.s.connGen {
			return
		}
		h.s.handleEvent(e)
	})
}

func (h *connHandler) HandleProtocolError(err error) {
	h.s.loop.Post(func() {
		if h.gen != h.s.connGen {
			return
		}
		h.s.metrics.RecordDropped("malformed")
		h.s.log().Warn("dropping malformed frame", "error", err)
	})
}

func (h *connHandler) HandleError(err error) {
	h.s.loop.Post(func() { h.s.connectionFailed(h.gen, err) })
}

func (h *connHandler) HandleClose() {
	h.s.loop.Post(func() { h.s.connectionClosed(h.gen) })
}
