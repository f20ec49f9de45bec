package agentroom

import "encoding/json"

// envelope is used for initial JSON parsing to determine the event type
// before unmarshaling into the specific event struct.
type envelope struct {
	Type string `json:"type"`
}

// TrackKind identifies the media carried by a track.
type TrackKind string

const (
	// TrackKindAudio is a microphone audio track.
	TrackKindAudio TrackKind = "audio"
	// TrackKindVideo is a camera video track.
	TrackKindVideo TrackKind = "video"
	// TrackKindScreenShare is a screen-capture video track.
	TrackKindScreenShare TrackKind = "screen_share"
)

// AgentState describes the remote agent's processing state, driven by the
// agent through participant attribute updates.
type AgentState string

const (
	AgentStateInitializing AgentState = "initializing"
	AgentStateListening    AgentState = "listening"
	AgentStateThinking     AgentState = "thinking"
	AgentStateSpeaking     AgentState = "speaking"
)

// RoomInfo describes the session room.
type RoomInfo struct {
	SID             string `json:"sid"`              // Server-assigned room identifier
	Name            string `json:"name"`             // Room name requested at join
	Metadata        string `json:"metadata"`         // Application metadata attached to the room
	NumParticipants int    `json:"num_participants"` // Current participant count
}

// TrackInfo describes a published track.
type TrackInfo struct {
	SID   string    `json:"sid"`   // Server-assigned track identifier
	Name  string    `json:"name"`  // Publisher-chosen track name
	Kind  TrackKind `json:"kind"`  // audio, video, or screen_share
	Muted bool      `json:"muted"` // Whether the publisher muted the track
}

// Permissions lists what the joined participant may do, derived from the
// access token's grant by the server.
type Permissions struct {
	CanPublish     bool `json:"can_publish"`      // May publish media tracks
	CanSubscribe   bool `json:"can_subscribe"`    // May subscribe to remote tracks
	CanPublishData bool `json:"can_publish_data"` // May send data-plane messages (RPC, chat)
}

// ParticipantInfo describes a participant in the room.
type ParticipantInfo struct {
	SID        string            `json:"sid"`                  // Server-assigned participant identifier
	Identity   string            `json:"identity"`             // Unique identity within the room
	Name       string            `json:"name,omitempty"`       // Display name
	Kind       string            `json:"kind,omitempty"`       // "standard" or "agent"
	Metadata   string            `json:"metadata,omitempty"`   // Application metadata
	Attributes map[string]string `json:"attributes,omitempty"` // Key/value attributes (agent state lives here)
	Tracks     []TrackInfo       `json:"tracks,omitempty"`     // Published tracks
}

// IsAgent reports whether the participant is the session's agent.
func (p ParticipantInfo) IsAgent() bool { return p.Kind == "agent" }

// ErrorEvent represents an error received from the platform. This includes
// join rejections, permission violations, and data-plane delivery failures.
type ErrorEvent struct {
	Type  string `json:"type"` // Always "error"
	Error struct {
		Code    string `json:"code,omitempty"`    // Machine-readable error code
		Message string `json:"message,omitempty"` // Human-readable error description
	} `json:"error"`
}

// RoomJoined is sent by the server once the join handshake completes.
// It carries the room snapshot, the local participant's server-side view,
// and the permissions derived from the access token.
type RoomJoined struct {
	Type              string            `json:"type"` // Always "room_joined"
	Room              RoomInfo          `json:"room"`
	Participant       ParticipantInfo   `json:"participant"`        // The local participant
	OtherParticipants []ParticipantInfo `json:"other_participants"` // Already-present participants
	Permissions       Permissions       `json:"permissions"`
}

// ParticipantJoined is sent when a remote participant joins the room.
type ParticipantJoined struct {
	Type        string          `json:"type"` // Always "participant_joined"
	Participant ParticipantInfo `json:"participant"`
}

// ParticipantLeft is sent when a remote participant leaves the room.
type ParticipantLeft struct {
	Type     string `json:"type"` // Always "participant_left"
	Identity string `json:"identity"`
	Reason   string `json:"reason,omitempty"`
}

// ParticipantAttributesChanged is sent when a participant's attributes change.
// Agent state transitions arrive through this event.
type ParticipantAttributesChanged struct {
	Type       string            `json:"type"` // Always "participant_attributes_changed"
	Identity   string            `json:"identity"`
	Attributes map[string]string `json:"attributes"`
}

// RoomMetadataChanged is sent when the room's metadata is replaced.
type RoomMetadataChanged struct {
	Type     string `json:"type"` // Always "room_metadata_changed"
	Metadata string `json:"metadata"`
}

// TrackPublished is sent when a track becomes available, including the
// server's acknowledgment of a local publish.
type TrackPublished struct {
	Type                string    `json:"type"` // Always "track_published"
	ParticipantIdentity string    `json:"participant_identity"`
	Track               TrackInfo `json:"track"`
	CID                 string    `json:"cid,omitempty"` // Client-chosen id echoed back on local publishes
}

// TrackUnpublished is sent when a track is removed from the room.
type TrackUnpublished struct {
	Type                string `json:"type"` // Always "track_unpublished"
	ParticipantIdentity string `json:"participant_identity"`
	TrackSID            string `json:"track_sid"`
}

// TrackMuted is sent when a publisher mutes or unmutes a track.
type TrackMuted struct {
	Type                string `json:"type"` // Always "track_muted"
	ParticipantIdentity string `json:"participant_identity"`
	TrackSID            string `json:"track_sid"`
	Muted               bool   `json:"muted"`
}

// SpeakerInfo pairs a participant with their current audio level.
type SpeakerInfo struct {
	Identity string  `json:"identity"`
	Level    float64 `json:"level"` // Normalized [0,1]
}

// ActiveSpeakersChanged is sent when the set of active speakers changes.
type ActiveSpeakersChanged struct {
	Type     string        `json:"type"` // Always "active_speakers_changed"
	Speakers []SpeakerInfo `json:"speakers"`
}

// TranscriptionReceived carries a batch of transcript segments for one
// participant's audio track. Segments may repeat with updated text until
// marked final; feed them to an Assembler to maintain rendering state.
type TranscriptionReceived struct {
	Type                string    `json:"type"` // Always "transcription"
	ParticipantIdentity string    `json:"participant_identity"`
	TrackSID            string    `json:"track_sid"`
	Segments            []Segment `json:"segments"`
}

// AgentStateChanged is a convenience event derived from agent attribute
// updates, dispatched in addition to ParticipantAttributesChanged.
type AgentStateChanged struct {
	Type     string     `json:"type"` // Always "agent_state_changed"
	Identity string     `json:"identity"`
	State    AgentState `json:"state"`
}

// ChatMessageReceived carries a data-plane chat message.
type ChatMessageReceived struct {
	Type         string `json:"type"` // Always "chat_message"
	ID           string `json:"id"`
	FromIdentity string `json:"from_identity"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"` // Unix milliseconds
}

// RPCResponseEvent carries the agent's answer to an outbound RPC.
// It is consumed internally by PerformRPC; a callback is not exposed.
type RPCResponseEvent struct {
	Type      string           `json:"type"` // Always "rpc_response"
	RequestID string           `json:"request_id"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Error     *RPCErrorPayload `json:"error,omitempty"`
}

// RPCRequestEvent carries an inbound RPC from the agent, answered by the
// handler registered with RegisterRPCMethod.
type RPCRequestEvent struct {
	Type           string          `json:"type"` // Always "rpc_request"
	RequestID      string          `json:"request_id"`
	CallerIdentity string          `json:"caller_identity"`
	Method         string          `json:"method"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// RPCErrorPayload is the wire form of an RPC error object.
type RPCErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Disconnected is sent when the server removes the client from the room,
// and synthesized locally when the read loop exits.
type Disconnected struct {
	Type   string `json:"type"` // Always "leave"
	Reason string `json:"reason,omitempty"`
}
