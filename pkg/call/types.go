package call

import "time"

// Status is the single status signal a session exposes to the host UI.
type Status string

const (
	StatusReady      Status = "ready"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusReady, StatusListening, StatusProcessing, StatusSpeaking}

// ConnectionState tracks the lifecycle of the session's socket.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClosed     ConnectionState = "closed"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// TranscriptEntry is one line of the conversation log.
type TranscriptEntry struct {
	Speaker  Speaker
	Text     string
	Sequence int
	At       time.Time
}

// Transcript is an append-only, arrival-ordered conversation log.
// Entries are never reordered or mutated once appended.
type Transcript struct {
	entries []TranscriptEntry
}

// Append adds an entry at the tail and returns it with its sequence number.
func (t *Transcript) Append(speaker Speaker, text string, at time.Time) TranscriptEntry {
	entry := TranscriptEntry{
		Speaker:  speaker,
		Text:     text,
		Sequence: len(t.entries) + 1,
		At:       at,
	}
	t.entries = append(t.entries, entry)
	return entry
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []TranscriptEntry {
	return append([]TranscriptEntry(nil), t.entries...)
}

func (t *Transcript) Len() int {
	return len(t.entries)
}
