package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

// Error codes sent in error frames.
const (
	CodeInvalidToken     = "invalid_token"
	CodeExpired          = "expired"
	CodeAlreadyCompleted = "already_completed"
	CodeMalformed        = "malformed_message"
	CodeUnauthorized     = "unauthorized"
	CodeSessionCompleted = "session_completed"
	CodeInvalidCommand   = "invalid_command"
	CodeInternal         = "internal"
)

// Inbound message types.
const (
	TypeAudioChunk     = "audio_chunk"
	TypeCandidateReady = "candidate_ready"
	TypeEndInterview   = "end_interview"
	TypeManagerCommand = "manager_command"
)

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("protocol: malformed message")

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

func (e *DecodeError) Unwrap() error { return ErrMalformed }

func malformed(message, param string) *DecodeError {
	return &DecodeError{Code: CodeMalformed, Message: message, Param: param}
}

// AudioChunk carries one decoded audio fragment as sent by the client.
type AudioChunk struct {
	Data []byte
}

type CandidateReady struct{}

type EndInterview struct{}

type ManagerCommand struct {
	Command interview.Command
}

// Decode parses one inbound text frame into AudioChunk, CandidateReady,
// EndInterview or ManagerCommand.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Type    string `json:"type"`
		Data    string `json:"data"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, malformed("missing type", "type")
	}

	switch typ {
	case TypeAudioChunk:
		if envelope.Data == "" {
			return nil, malformed("audio_chunk.data is required", "data")
		}
		pcm, err := base64.StdEncoding.DecodeString(envelope.Data)
		if err != nil {
			return nil, malformed("audio_chunk.data must be base64", "data")
		}
		return AudioChunk{Data: pcm}, nil
	case TypeCandidateReady:
		return CandidateReady{}, nil
	case TypeEndInterview:
		return EndInterview{}, nil
	case TypeManagerCommand:
		switch cmd := interview.Command(strings.TrimSpace(envelope.Command)); cmd {
		case interview.CommandNextQuestion, interview.CommandEndInterview:
			return ManagerCommand{Command: cmd}, nil
		case "":
			return nil, malformed("manager_command.command is required", "command")
		default:
			return nil, malformed("unknown manager command", envelope.Command)
		}
	default:
		return nil, malformed("unknown message type", typ)
	}
}

// Frame is one outbound JSON message.
type Frame struct {
	Type  interview.EventType `json:"type"`
	Audio string              `json:"audio,omitempty"`
	Data  any                 `json:"data,omitempty"`
}

// FromEvent renders an engine event. Audio events carry base64 audio next to
// the spoken text.
func FromEvent(ev interview.Event) Frame {
	f := Frame{Type: ev.Type, Data: ev.Data}
	if ev.Type == interview.EventAudio {
		f.Audio = base64.StdEncoding.EncodeToString(ev.Audio)
	}
	return f
}

// SessionReady is the first frame every connection receives.
func SessionReady(snap interview.Snapshot) Frame {
	return Frame{Type: interview.EventSessionReady, Data: snap}
}

func Error(code, message string) Frame {
	return Frame{Type: interview.EventError, Data: interview.ErrorData{Code: code, Message: message}}
}
