package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ConnectionDetails is everything a client needs to join a session room,
// as returned by the agent-gateway connection-details route.
type ConnectionDetails struct {
	ServerURL        string `json:"server_url"`
	RoomName         string `json:"room_name"`
	ParticipantToken string `json:"participant_token"`
	ParticipantName  string `json:"participant_name"`
}

// ConnectionRequest customizes the minted connection details. All fields
// are optional; the gateway fills in defaults.
type ConnectionRequest struct {
	RoomName        string `json:"room_name,omitempty"`
	ParticipantName string `json:"participant_name,omitempty"`
}

// FetchConnectionDetails asks the agent-gateway to mint a participant token
// for a fresh session room. bearer optionally authenticates the caller when
// the gateway runs with OIDC enabled.
func FetchConnectionDetails(ctx context.Context, gatewayURL, bearer string, reqBody ConnectionRequest) (ConnectionDetails, error) {
	var details ConnectionDetails
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", gatewayURL+"/api/connection-details", bytes.NewReader(body))
	if err != nil {
		return details, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return details, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return details, fmt.Errorf("connection details: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return details, err
	}
	return details, nil
}

// SessionRequest starts an agent session through the gateway's session
// proxy route. The body passes through to the upstream session API.
type SessionRequest struct {
	RoomName  string         `json:"room_name"`
	AgentName string         `json:"agent_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionResponse is the upstream session API's reply.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	RoomName  string `json:"room_name"`
	AgentName string `json:"agent_name,omitempty"`
}

// CreateSession asks the gateway to start an agent session for the room.
func CreateSession(ctx context.Context, gatewayURL, bearer string, reqBody SessionRequest) (SessionResponse, error) {
	var session SessionResponse
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", gatewayURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return session, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return session, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return session, fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return session, err
	}
	return session, nil
}

// MediaURL returns the SDP exchange endpoint for a session server.
func MediaURL(serverURL string) string {
	return serverURL + "/rtc/connect"
}
