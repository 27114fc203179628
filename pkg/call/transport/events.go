package transport

import "encoding/json"

// Event is a classified inbound frame.
type Event interface {
	eventType() string
}

type UserTranscriptEvent struct{ Text string }

func (e UserTranscriptEvent) eventType() string { return "user_transcript" }

type AssistantTranscriptEvent struct{ Text string }

func (e AssistantTranscriptEvent) eventType() string { return "ai_transcript" }

// AudioEvent carries one decoded speech segment payload.
type AudioEvent struct {
	Audio    []byte
	Complete bool
}

func (e AudioEvent) eventType() string { return "audio_response" }

type StatusEvent struct{ Message string }

func (e StatusEvent) eventType() string { return "status" }

// ErrorEvent is an explicit error reported by the remote service.
type ErrorEvent struct{ Message string }

func (e ErrorEvent) eventType() string { return "error" }

type ContextUpdatedEvent struct{}

func (e ContextUpdatedEvent) eventType() string { return "context_updated" }

type PongEvent struct{}

func (e PongEvent) eventType() string { return "pong" }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// EventType returns the wire discriminant an event was decoded from.
func EventType(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventType()
}
