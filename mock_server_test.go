package agentroom

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// MockServer provides a test WebSocket server that simulates the session
// server's signaling endpoint
type MockServer struct {
	server   *httptest.Server
	messages []interface{}
	t        *testing.T

	mu        sync.Mutex
	responses []RPCResponseEvent // rpc_response messages received from clients
}

// NewMockServer creates a new mock server for testing
func NewMockServer(t *testing.T) *MockServer {
	ms := &MockServer{t: t, messages: make([]interface{}, 0)}

	ms.server = httptest.NewServer(http.HandlerFunc(ms.handleWebSocket))
	return ms
}

// Close shuts down the mock server
func (ms *MockServer) Close() {
	ms.server.Close()
}

// URL returns the HTTP base URL of the mock server; Dial derives the
// WebSocket URL from it
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// AddMessage adds a message that the server will send to clients after the
// join acknowledgment
func (ms *MockServer) AddMessage(msg interface{}) {
	ms.messages = append(ms.messages, msg)
}

// RPCResponses returns the rpc_response messages received from clients
func (ms *MockServer) RPCResponses() []RPCResponseEvent {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]RPCResponseEvent, len(ms.responses))
	copy(out, ms.responses)
	return out
}

// CreateMockConfig returns a Config pointing at the mock server
func CreateMockConfig(serverURL string) Config {
	return Config{
		ServerURL:       serverURL,
		RoomName:        "test-room",
		Identity:        "test-user",
		ParticipantName: "Test User",
		Credential:      AccessToken("test-token"),
	}
}

func (ms *MockServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Require a credential on the handshake
	if r.Header.Get("Authorization") == "" {
		http.Error(w, "Missing authentication", http.StatusUnauthorized)
		return
	}

	room := r.URL.Query().Get("room")
	identity := r.URL.Query().Get("identity")
	name := r.URL.Query().Get("name")
	if room == "" || identity == "" {
		http.Error(w, "Missing room or identity", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // For testing only
	})
	if err != nil {
		ms.t.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Acknowledge the join with a room snapshot including one agent
	joined := RoomJoined{
		Type: "room_joined",
		Room: RoomInfo{SID: "RM_mock", Name: room, NumParticipants: 2},
		Participant: ParticipantInfo{
			SID:      "PA_local",
			Identity: identity,
			Name:     name,
			Kind:     "standard",
		},
		OtherParticipants: []ParticipantInfo{
			{
				SID:        "PA_agent",
				Identity:   "agent-1",
				Name:       "Assistant",
				Kind:       "agent",
				Attributes: map[string]string{"agent.state": "initializing"},
			},
		},
		Permissions: Permissions{CanPublish: true, CanSubscribe: true, CanPublishData: true},
	}
	data, _ := json.Marshal(joined)
	if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
		ms.t.Errorf("failed to write room_joined: %v", err)
		return
	}

	// Send any pre-configured messages, after a short pause so the test
	// has registered its callbacks and handlers
	if len(ms.messages) > 0 {
		time.Sleep(200 * time.Millisecond)
	}
	for _, msg := range ms.messages {
		data, err := json.Marshal(msg)
		if err != nil {
			ms.t.Errorf("failed to marshal message: %v", err)
			continue
		}

		if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
			ms.t.Errorf("failed to write message: %v", err)
			return
		}
	}

	// Keep connection alive and respond to incoming messages
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return // Connection closed
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "update_attributes":
			// Fan the change back out
			var msg struct {
				Attributes map[string]string `json:"attributes"`
			}
			json.Unmarshal(data, &msg)
			resp, _ := json.Marshal(ParticipantAttributesChanged{
				Type:       "participant_attributes_changed",
				Identity:   identity,
				Attributes: msg.Attributes,
			})
			conn.Write(r.Context(), websocket.MessageText, resp)

		case "chat_message":
			var msg struct {
				Message   string `json:"message"`
				Timestamp int64  `json:"timestamp"`
			}
			json.Unmarshal(data, &msg)
			resp, _ := json.Marshal(ChatMessageReceived{
				Type:         "chat_message",
				ID:           "msg_mock_1",
				FromIdentity: identity,
				Message:      msg.Message,
				Timestamp:    msg.Timestamp,
			})
			conn.Write(r.Context(), websocket.MessageText, resp)

		case "add_track":
			// Acknowledge the publish with a server-assigned SID
			var msg struct {
				CID   string    `json:"cid"`
				Name  string    `json:"name"`
				Kind  TrackKind `json:"kind"`
				Muted bool      `json:"muted"`
			}
			json.Unmarshal(data, &msg)
			resp, _ := json.Marshal(TrackPublished{
				Type:                "track_published",
				ParticipantIdentity: identity,
				Track: TrackInfo{
					SID:   "TR_" + msg.CID,
					Name:  msg.Name,
					Kind:  msg.Kind,
					Muted: msg.Muted,
				},
				CID: msg.CID,
			})
			conn.Write(r.Context(), websocket.MessageText, resp)

		case "mute_track":
			var msg struct {
				SID   string `json:"sid"`
				Muted bool   `json:"muted"`
			}
			json.Unmarshal(data, &msg)
			resp, _ := json.Marshal(TrackMuted{
				Type:                "track_muted",
				ParticipantIdentity: identity,
				TrackSID:            msg.SID,
				Muted:               msg.Muted,
			})
			conn.Write(r.Context(), websocket.MessageText, resp)

		case "rpc_request":
			ms.handleRPC(r, conn, data)

		case "rpc_response":
			// A reply to an inbound RPC the server sent; record it
			var resp RPCResponseEvent
			if json.Unmarshal(data, &resp) == nil {
				ms.mu.Lock()
				ms.responses = append(ms.responses, resp)
				ms.mu.Unlock()
			}

		case "leave":
			return
		}
	}
}

// handleRPC simulates the agent participant answering RPCs. Method names
// choose the behavior: "agent.fail" answers with an error object,
// "agent.silent" never answers, "agent.garbage" answers with a payload
// that is not valid JSON, everything else echoes the request payload.
func (ms *MockServer) handleRPC(r *http.Request, conn *websocket.Conn, data []byte) {
	var req struct {
		RequestID string          `json:"request_id"`
		Method    string          `json:"method"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	switch req.Method {
	case "agent.silent":
		return
	case "agent.fail":
		resp, _ := json.Marshal(RPCResponseEvent{
			Type:      "rpc_response",
			RequestID: req.RequestID,
			Error:     &RPCErrorPayload{Code: "APPLICATION_ERROR", Message: "the agent is unwell"},
		})
		conn.Write(r.Context(), websocket.MessageText, resp)
	case "agent.garbage":
		raw := `{"type":"rpc_response","request_id":"` + req.RequestID + `","payload":{not json}}`
		conn.Write(r.Context(), websocket.MessageText, []byte(raw))
	default:
		resp, _ := json.Marshal(RPCResponseEvent{
			Type:      "rpc_response",
			RequestID: req.RequestID,
			Payload:   req.Payload,
		})
		conn.Write(r.Context(), websocket.MessageText, resp)
	}
}
