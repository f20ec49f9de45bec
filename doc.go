// Package agentroom provides a Go client for voice-assistant sessions hosted
// on a realtime media platform.
//
// The library joins a session room over a WebSocket signaling connection,
// publishes local audio/video/screen tracks through a WebRTC media peer,
// exchanges small JSON-encoded remote-procedure calls with the remote agent
// participant, and consumes transcription and state events for rendering.
// Room, track, and participant semantics are owned by the platform; this
// package is the application layer on top of them.
//
// Key Features:
//   - WebSocket signaling client with callback-based event dispatch
//   - JSON RPC to the agent participant with a bounded response timeout
//   - Local track publishing (microphone, camera, screen share) via WebRTC
//   - Transcript segment aggregation for live caption rendering
//   - Audio level metering and band volumes for visualizers
//   - Access token permissions enforced before publish operations
//
// Basic Usage:
//
//	cfg := agentroom.Config{
//		ServerURL:  "https://session.example.com",
//		RoomName:   "assistant-demo",
//		Identity:   "user-42",
//		Credential: agentroom.AccessToken("participant-jwt"),
//	}
//	client, err := agentroom.Dial(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// Register callbacks before interacting with the agent:
//   - OnTranscriptionReceived: live caption segments
//   - OnAgentStateChanged: listening/thinking/speaking transitions
//   - OnParticipantJoined/OnParticipantLeft: roster changes
//   - OnError: platform errors
//
// The companion cmd/agent-gateway binary serves the HTTP routes that mint
// participant access tokens and proxy the upstream session-creation API.
package agentroom
