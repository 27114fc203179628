package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vango-go/vai-call/pkg/call"
)

type StatusMsg struct{ Status call.Status }

type ConnectionMsg struct{ State call.ConnectionState }

type EntryMsg struct{ Entry call.TranscriptEntry }

// Bridge turns session notifications into tea messages. Its observer methods
// never block, so the session's event loop is never held up by rendering.
type Bridge struct {
	mu      sync.Mutex
	pending []tea.Msg
	notify  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Close releases a pending waitForEvent once the program has quit.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) StatusChanged(s call.Status) { b.push(StatusMsg{Status: s}) }

func (b *Bridge) ConnectionChanged(s call.ConnectionState) { b.push(ConnectionMsg{State: s}) }

func (b *Bridge) TranscriptAppended(e call.TranscriptEntry) { b.push(EntryMsg{Entry: e}) }

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// next blocks until a message is available. It returns nil after Close.
func (b *Bridge) next() tea.Msg {
	for {
		b.mu.Lock()
		if len(b.pending) > 0 {
			msg := b.pending[0]
			b.pending[0] = nil
			b.pending = b.pending[1:]
			b.mu.Unlock()
			return msg
		}
		b.mu.Unlock()
		select {
		case <-b.notify:
		case <-b.done:
			return nil
		}
	}
}

// waitForEvent delivers the next session notification to Update.
func waitForEvent(b *Bridge) tea.Cmd {
	return func() tea.Msg {
		return b.next()
	}
}
