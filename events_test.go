package agentroom

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeParsing(t *testing.T) {
	data := []byte(`{"type":"room_joined","room":{"sid":"RM_1"}}`)
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	if env.Type != "room_joined" {
		t.Errorf("expected room_joined, got %s", env.Type)
	}
}

func TestRoomJoinedParsing(t *testing.T) {
	data := []byte(`{
		"type": "room_joined",
		"room": {"sid": "RM_abc", "name": "assistant-1234", "num_participants": 2},
		"participant": {"sid": "PA_1", "identity": "user-1", "name": "User", "kind": "standard"},
		"other_participants": [
			{"sid": "PA_2", "identity": "agent-1", "kind": "agent", "attributes": {"agent.state": "listening"}}
		],
		"permissions": {"can_publish": true, "can_subscribe": true, "can_publish_data": false}
	}`)

	var e RoomJoined
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if e.Room.Name != "assistant-1234" {
		t.Errorf("unexpected room name: %s", e.Room.Name)
	}
	if e.Participant.Identity != "user-1" {
		t.Errorf("unexpected identity: %s", e.Participant.Identity)
	}
	if len(e.OtherParticipants) != 1 || !e.OtherParticipants[0].IsAgent() {
		t.Errorf("agent participant not parsed: %+v", e.OtherParticipants)
	}
	if !e.Permissions.CanPublish || e.Permissions.CanPublishData {
		t.Errorf("permissions not parsed: %+v", e.Permissions)
	}
}

func TestTranscriptionParsing(t *testing.T) {
	data := []byte(`{
		"type": "transcription",
		"participant_identity": "user-1",
		"track_sid": "TR_mic",
		"segments": [
			{"id": "s1", "text": "hello", "final": false, "language": "en-US", "start_time": 120, "end_time": 640}
		]
	}`)

	var e TranscriptionReceived
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(e.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(e.Segments))
	}
	s := e.Segments[0]
	if s.Text != "hello" || s.Final || s.Language != "en-US" {
		t.Errorf("unexpected segment: %+v", s)
	}
	if s.StartTime != 120 || s.EndTime != 640 {
		t.Errorf("unexpected timing: %+v", s)
	}
}

func TestRPCEventParsing(t *testing.T) {
	respData := []byte(`{"type":"rpc_response","request_id":"r1","error":{"code":"TIMEOUT","message":"too slow"}}`)
	var resp RPCResponseEvent
	if err := json.Unmarshal(respData, &resp); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "TIMEOUT" {
		t.Errorf("error object not parsed: %+v", resp.Error)
	}

	reqData := []byte(`{"type":"rpc_request","request_id":"r2","caller_identity":"agent-1","method":"client.ping","payload":{"n":1}}`)
	var req RPCRequestEvent
	if err := json.Unmarshal(reqData, &req); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if req.Method != "client.ping" || req.CallerIdentity != "agent-1" {
		t.Errorf("unexpected request: %+v", req)
	}
	if string(req.Payload) != `{"n":1}` {
		t.Errorf("payload not preserved: %s", req.Payload)
	}
}

func TestErrorEventParsing(t *testing.T) {
	data := []byte(`{"type":"error","error":{"code":"NOT_ALLOWED","message":"publishing denied"}}`)
	var e ErrorEvent
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if e.Error.Code != "NOT_ALLOWED" || e.Error.Message != "publishing denied" {
		t.Errorf("unexpected error event: %+v", e)
	}
}

func TestActiveSpeakersParsing(t *testing.T) {
	data := []byte(`{"type":"active_speakers_changed","speakers":[{"identity":"user-1","level":0.42}]}`)
	var e ActiveSpeakersChanged
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(e.Speakers) != 1 || e.Speakers[0].Level != 0.42 {
		t.Errorf("unexpected speakers: %+v", e.Speakers)
	}
}

func TestIsAgent(t *testing.T) {
	tests := []struct {
		kind     string
		expected bool
	}{
		{"agent", true},
		{"standard", false},
		{"", false},
	}
	for _, tt := range tests {
		p := ParticipantInfo{Kind: tt.kind}
		if p.IsAgent() != tt.expected {
			t.Errorf("IsAgent() with kind %q = %v, expected %v", tt.kind, p.IsAgent(), tt.expected)
		}
	}
}
