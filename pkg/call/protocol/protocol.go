package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TypePageUpdate is the only client control frame.
const TypePageUpdate = "page_update"

// Server frame types.
const (
	TypeUserTranscript = "user_transcript"
	TypeAITranscript   = "ai_transcript"
	TypeAudioResponse  = "audio_response"
	TypeStatus         = "status"
	TypeError          = "error"
	TypeContextUpdated = "context_updated"
	TypePong           = "pong"
)

// StatusComplete is the status message the server sends after a full turn.
const StatusComplete = "complete"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// ClientPageUpdate carries the page context the conversation is about.
type ClientPageUpdate struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewPageUpdate(content string) ClientPageUpdate {
	return ClientPageUpdate{Type: TypePageUpdate, Content: content}
}

type ServerUserTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerAITranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerAudioResponse carries one base64 encoded speech segment.
type ServerAudioResponse struct {
	Type     string `json:"type"`
	Audio    string `json:"audio"`
	Complete bool   `json:"complete,omitempty"`
}

// DecodeAudio returns the raw segment bytes.
func (m ServerAudioResponse) DecodeAudio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m.Audio))
	if err != nil {
		return nil, badFrame("audio_response.audio is not valid base64", "audio")
	}
	return data, nil
}

type ServerStatus struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerContextUpdated struct {
	Type string `json:"type"`
}

type ServerPong struct {
	Type string `json:"type"`
}

// ServerUnknown is any well-formed frame whose type this client does not know.
type ServerUnknown struct {
	Type string
	Raw  json.RawMessage
}

// DecodeServerMessage classifies one inbound text frame. Unknown types decode
// to ServerUnknown rather than failing.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeUserTranscript:
		var msg ServerUserTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid user_transcript", "")
		}
		return msg, nil
	case TypeAITranscript:
		var msg ServerAITranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid ai_transcript", "")
		}
		return msg, nil
	case TypeAudioResponse:
		var msg ServerAudioResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio_response", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badFrame("audio_response.audio is required", "audio")
		}
		return msg, nil
	case TypeStatus:
		var msg ServerStatus
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid status", "")
		}
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error", "")
		}
		return msg, nil
	case TypeContextUpdated:
		return ServerContextUpdated{Type: typ}, nil
	case TypePong:
		return ServerPong{Type: typ}, nil
	default:
		return ServerUnknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
