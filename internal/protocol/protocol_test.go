package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    any
		wantErr bool
	}{
		{"audio", `{"type":"audio_chunk","data":"AQID"}`, AudioChunk{}, false},
		{"ready", `{"type":"candidate_ready"}`, CandidateReady{}, false},
		{"end", `{"type":"end_interview"}`, EndInterview{}, false},
		{"next", `{"type":"manager_command","command":"next_question"}`, ManagerCommand{Command: interview.CommandNextQuestion}, false},
		{"manager_end", `{"type":"manager_command","command":"end_interview"}`, ManagerCommand{Command: interview.CommandEndInterview}, false},
		{"bad_json", `{"type":`, nil, true},
		{"missing_type", `{"data":"AQID"}`, nil, true},
		{"unknown_type", `{"type":"dance"}`, nil, true},
		{"audio_without_data", `{"type":"audio_chunk"}`, nil, true},
		{"audio_not_base64", `{"type":"audio_chunk","data":"***"}`, nil, true},
		{"command_missing", `{"type":"manager_command"}`, nil, true},
		{"command_unknown", `{"type":"manager_command","command":"pause"}`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				var de *DecodeError
				if !errors.As(err, &de) || de.Code != CodeMalformed {
					t.Fatalf("expected DecodeError with malformed code, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch want := tc.want.(type) {
			case AudioChunk:
				chunk, ok := got.(AudioChunk)
				if !ok || string(chunk.Data) != "\x01\x02\x03" {
					t.Fatalf("unexpected audio %#v", got)
				}
			default:
				if got != want {
					t.Fatalf("got %#v want %#v", got, want)
				}
			}
		})
	}
}

func TestFromEvent_AudioShape(t *testing.T) {
	f := FromEvent(interview.Event{Type: interview.EventAudio, Data: interview.AudioData{Text: "Hi"}, Audio: []byte{1, 2, 3}})
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"audio","audio":"AQID","data":{"text":"Hi"}}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestFromEvent_OmitsEmptyData(t *testing.T) {
	b, _ := json.Marshal(FromEvent(interview.Event{Type: interview.EventAIThinking}))
	if string(b) != `{"type":"ai_thinking"}` {
		t.Fatalf("got %s", b)
	}
}

func TestError_Shape(t *testing.T) {
	b, _ := json.Marshal(Error(CodeExpired, "token expired"))
	if string(b) != `{"type":"error","data":{"code":"expired","message":"token expired"}}` {
		t.Fatalf("got %s", b)
	}
}
