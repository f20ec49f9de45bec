package agentroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Client represents a connection to a session room on the realtime media
// platform. It manages the signaling WebSocket, maintains a local view of
// room and participant state, dispatches events to registered callbacks,
// and carries the RPC exchange with the remote agent participant. The
// client is safe for concurrent use across multiple goroutines.
type Client struct {
	cfg Config // Configuration used to create this client

	// Connection state
	conn       *websocket.Conn    // Underlying signaling WebSocket
	writeMu    sync.Mutex         // Protects writes to the WebSocket
	readCancel context.CancelFunc // Cancels the read loop when closing
	closedCh   chan struct{}      // Signals when the client is closed
	closeOnce  sync.Once          // Ensures closedCh is only closed once

	// Room state, maintained from dispatched events
	stateMu      sync.RWMutex
	room         RoomInfo
	local        ParticipantInfo
	permissions  Permissions
	participants map[string]*ParticipantInfo // Remote participants by identity

	// Media peer attachment (tracks.go)
	mediaMu sync.Mutex
	media   MediaTransport
	pubs    map[string]*LocalTrackPublication // By client-chosen id (cid)

	// RPC state (rpc.go)
	rpcMu       sync.Mutex
	rpcPending  map[string]chan rpcOutcome
	rpcHandlers map[string]RPCHandler

	// Event handlers - called from the read loop goroutine
	handlerMu                      sync.RWMutex
	onError                        func(ErrorEvent)
	onRoomJoined                   func(RoomJoined)
	onParticipantJoined            func(ParticipantJoined)
	onParticipantLeft              func(ParticipantLeft)
	onParticipantAttributesChanged func(ParticipantAttributesChanged)
	onRoomMetadataChanged          func(RoomMetadataChanged)
	onTrackPublished               func(TrackPublished)
	onTrackUnpublished             func(TrackUnpublished)
	onTrackMuted                   func(TrackMuted)
	onActiveSpeakersChanged        func(ActiveSpeakersChanged)
	onTranscriptionReceived        func(TranscriptionReceived)
	onAgentStateChanged            func(AgentStateChanged)
	onChatMessageReceived          func(ChatMessageReceived)
	onDisconnected                 func(Disconnected)
}

// Dial establishes the signaling connection and joins the session room.
// It validates the configuration, constructs the signaling URL, performs
// authentication, and starts the background goroutines for event handling
// and keepalives.
//
// The returned client is ready to use; the RoomJoined event arrives on the
// OnRoomJoined callback once the server acknowledges the join. Call Close()
// (or Leave() for a graceful exit) when finished.
//
// Returns an error if configuration is invalid, connection fails, or the
// token is rejected.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	// Construct signaling URL from the HTTP server URL
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, NewConfigError("ServerURL", cfg.ServerURL, "invalid URL format")
	}

	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws" // For HTTP (mainly for testing)
	}
	u.Path = "/rtc"
	q := u.Query()
	q.Set("room", cfg.RoomName)
	q.Set("identity", cfg.Identity)
	if cfg.ParticipantName != "" {
		q.Set("name", cfg.ParticipantName)
	}
	q.Set("protocol", protocolVersion)
	u.RawQuery = q.Encode()

	// Prepare authentication and custom headers
	h := http.Header{}
	if cfg.HandshakeHeaders != nil {
		for k, vals := range cfg.HandshakeHeaders {
			for _, v := range vals {
				h.Add(k, v)
			}
		}
	}
	cfg.Credential.apply(h)

	// Apply dial timeout if specified
	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, NewConnectionError(u.String(), "dial", err)
	}

	c := &Client{
		cfg:          cfg,
		conn:         ws,
		closedCh:     make(chan struct{}),
		participants: make(map[string]*ParticipantInfo),
		pubs:         make(map[string]*LocalTrackPublication),
		rpcPending:   make(map[string]chan rpcOutcome),
		rpcHandlers:  make(map[string]RPCHandler),
	}
	c.log("signal_connected", map[string]any{"url": u.String(), "room": cfg.RoomName})

	// Start read loop in separate goroutine
	rcCtx, cancel := context.WithCancel(context.Background())
	c.readCancel = cancel
	go c.readLoop(rcCtx)

	// Start ping loop to maintain connection
	go c.pingLoop()
	return c, nil
}

// protocolVersion is the signaling protocol revision this client speaks.
const protocolVersion = "3"

// Leave sends a graceful leave message before tearing the connection down.
// The server notifies remaining participants and releases the seat
// immediately instead of waiting for a timeout.
func (c *Client) Leave(ctx context.Context) error {
	err := c.send(ctx, map[string]any{"type": "leave"})
	if err != nil && !errors.Is(err, ErrClosed) {
		c.logError("leave_send_failed", map[string]any{"err": err})
	}
	return c.Close()
}

// Close shuts down the client and cleans up all resources: the read loop,
// the signaling connection, any attached media peer, and all pending RPCs
// (which fail with ErrClosed). Safe to call multiple times; does not block.
func (c *Client) Close() error {
	// Cancel the read loop to stop processing incoming messages
	if c.readCancel != nil {
		c.readCancel()
	}

	// Close the signaling connection safely
	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
		c.conn = nil
	}
	c.writeMu.Unlock()

	// Tear down the media peer, if attached
	c.mediaMu.Lock()
	if c.media != nil {
		_ = c.media.Close()
		c.media = nil
	}
	c.mediaMu.Unlock()

	c.failPendingRPCs(ErrClosed)

	// Signal that the client is closed
	c.closeOnce.Do(func() {
		close(c.closedCh)
	})
	return nil
}

// Room returns a snapshot of the room state.
func (c *Client) Room() RoomInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.room
}

// LocalParticipant returns the server's view of the local participant.
func (c *Client) LocalParticipant() ParticipantInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.local
}

// Permissions returns the permissions granted by the access token.
func (c *Client) Permissions() Permissions {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.permissions
}

// RemoteParticipants returns a snapshot of all remote participants.
func (c *Client) RemoteParticipants() []ParticipantInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make([]ParticipantInfo, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	return out
}

// AgentParticipant returns the agent participant, if one has joined.
func (c *Client) AgentParticipant() (ParticipantInfo, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	for _, p := range c.participants {
		if p.IsAgent() {
			return *p, true
		}
	}
	return ParticipantInfo{}, false
}

// UpdateAttributes replaces the given keys in the local participant's
// attributes. Other participants observe the change through
// ParticipantAttributesChanged events.
func (c *Client) UpdateAttributes(ctx context.Context, attrs map[string]string) error {
	if len(attrs) == 0 {
		return nil
	}
	return c.send(ctx, map[string]any{"type": "update_attributes", "attributes": attrs})
}

// UpdateName changes the local participant's display name.
func (c *Client) UpdateName(ctx context.Context, name string) error {
	if name == "" {
		return NewSendError("update_name", errors.New("name cannot be empty"))
	}
	return c.send(ctx, map[string]any{"type": "update_name", "name": name})
}

// SendChat publishes a chat message on the data plane.
// Requires the can_publish_data permission.
func (c *Client) SendChat(ctx context.Context, message string) error {
	if message == "" {
		return NewSendError("chat_message", errors.New("message cannot be empty"))
	}
	if !c.Permissions().CanPublishData {
		return NewSendError("chat_message", ErrPermissionDenied)
	}
	return c.send(ctx, map[string]any{
		"type":      "chat_message",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// Event handler registration methods.
// Callbacks are executed in the read loop goroutine, so they should not block.

// OnError registers a callback for platform error events.
func (c *Client) OnError(fn func(ErrorEvent)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onError = fn
}

// OnRoomJoined registers a callback for the join acknowledgment.
func (c *Client) OnRoomJoined(fn func(RoomJoined)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onRoomJoined = fn
}

// OnParticipantJoined registers a callback for participant join events.
func (c *Client) OnParticipantJoined(fn func(ParticipantJoined)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onParticipantJoined = fn
}

// OnParticipantLeft registers a callback for participant leave events.
func (c *Client) OnParticipantLeft(fn func(ParticipantLeft)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onParticipantLeft = fn
}

// OnParticipantAttributesChanged registers a callback for attribute updates.
func (c *Client) OnParticipantAttributesChanged(fn func(ParticipantAttributesChanged)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onParticipantAttributesChanged = fn
}

// OnRoomMetadataChanged registers a callback for room metadata updates.
func (c *Client) OnRoomMetadataChanged(fn func(RoomMetadataChanged)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onRoomMetadataChanged = fn
}

// OnTrackPublished registers a callback for track publish events.
func (c *Client) OnTrackPublished(fn func(TrackPublished)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTrackPublished = fn
}

// OnTrackUnpublished registers a callback for track unpublish events.
func (c *Client) OnTrackUnpublished(fn func(TrackUnpublished)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTrackUnpublished = fn
}

// OnTrackMuted registers a callback for track mute state changes.
func (c *Client) OnTrackMuted(fn func(TrackMuted)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTrackMuted = fn
}

// OnActiveSpeakersChanged registers a callback for active speaker updates.
func (c *Client) OnActiveSpeakersChanged(fn func(ActiveSpeakersChanged)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onActiveSpeakersChanged = fn
}

// OnTranscriptionReceived registers a callback for transcription segments.
func (c *Client) OnTranscriptionReceived(fn func(TranscriptionReceived)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTranscriptionReceived = fn
}

// OnAgentStateChanged registers a callback for agent state transitions.
func (c *Client) OnAgentStateChanged(fn func(AgentStateChanged)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onAgentStateChanged = fn
}

// OnChatMessageReceived registers a callback for chat messages.
func (c *Client) OnChatMessageReceived(fn func(ChatMessageReceived)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onChatMessageReceived = fn
}

// OnDisconnected registers a callback invoked when the server removes the
// client from the room or the signaling connection drops.
func (c *Client) OnDisconnected(fn func(Disconnected)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onDisconnected = fn
}

// readLoop continuously reads messages from the signaling connection.
// It runs in a separate goroutine and handles message parsing and event
// dispatching. The loop terminates when the context is canceled or the
// connection fails; a local Disconnected event is dispatched on exit.
func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "reader_exit")
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.failPendingRPCs(ErrClosed)
		c.closeOnce.Do(func() {
			close(c.closedCh)
		})
		c.handlerMu.RLock()
		fn := c.onDisconnected
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(Disconnected{Type: "leave", Reason: "connection_closed"})
		}
	}()

	// Read from a stable reference; Close nils c.conn under writeMu while
	// this loop is still draining.
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return // Connection closed or error occurred
		}

		// Only process text messages (JSON events)
		if typ != websocket.MessageText {
			continue
		}

		c.handleRaw(data)
	}
}

// handleRaw parses the event envelope and dispatches. It is the shared
// entry point for signaling messages and for data-channel payloads
// delivered by an attached media peer.
func (c *Client) handleRaw(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if c.salvageRPCResponse(data) {
			return
		}
		c.logError("bad_event_json", map[string]any{"err": err, "raw_data": string(data)})
		return
	}
	c.dispatch(env, data)
}

func (c *Client) pingLoop() {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.closedCh:
			return
		case <-t.C:
			c.writeMu.Lock()
			if c.conn != nil {
				_ = c.conn.Ping(context.Background())
			}
			c.writeMu.Unlock()
		}
	}
}

func (c *Client) dispatch(env envelope, raw []byte) {
	switch env.Type {
	case "error":
		var e ErrorEvent
		_ = json.Unmarshal(raw, &e)
		c.handlerMu.RLock()
		if c.onError != nil {
			c.onError(e)
		}
		c.handlerMu.RUnlock()
	case "room_joined":
		var e RoomJoined
		_ = json.Unmarshal(raw, &e)
		c.applyRoomJoined(e)
		c.handlerMu.RLock()
		if c.onRoomJoined != nil {
			c.onRoomJoined(e)
		}
		c.handlerMu.RUnlock()
	case "participant_joined":
		var e ParticipantJoined
		_ = json.Unmarshal(raw, &e)
		c.applyParticipantJoined(e)
		c.handlerMu.RLock()
		if c.onParticipantJoined != nil {
			c.onParticipantJoined(e)
		}
		c.handlerMu.RUnlock()
	case "participant_left":
		var e ParticipantLeft
		_ = json.Unmarshal(raw, &e)
		c.applyParticipantLeft(e)
		c.handlerMu.RLock()
		if c.onParticipantLeft != nil {
			c.onParticipantLeft(e)
		}
		c.handlerMu.RUnlock()
	case "participant_attributes_changed":
		var e ParticipantAttributesChanged
		_ = json.Unmarshal(raw, &e)
		agentState := c.applyAttributesChanged(e)
		c.handlerMu.RLock()
		if c.onParticipantAttributesChanged != nil {
			c.onParticipantAttributesChanged(e)
		}
		if agentState != "" && c.onAgentStateChanged != nil {
			c.onAgentStateChanged(AgentStateChanged{
				Type:     "agent_state_changed",
				Identity: e.Identity,
				State:    agentState,
			})
		}
		c.handlerMu.RUnlock()
	case "room_metadata_changed":
		var e RoomMetadataChanged
		_ = json.Unmarshal(raw, &e)
		c.stateMu.Lock()
		c.room.Metadata = e.Metadata
		c.stateMu.Unlock()
		c.handlerMu.RLock()
		if c.onRoomMetadataChanged != nil {
			c.onRoomMetadataChanged(e)
		}
		c.handlerMu.RUnlock()
	case "track_published":
		var e TrackPublished
		_ = json.Unmarshal(raw, &e)
		c.applyTrackPublished(e)
		c.handlerMu.RLock()
		if c.onTrackPublished != nil {
			c.onTrackPublished(e)
		}
		c.handlerMu.RUnlock()
	case "track_unpublished":
		var e TrackUnpublished
		_ = json.Unmarshal(raw, &e)
		c.applyTrackUnpublished(e)
		c.handlerMu.RLock()
		if c.onTrackUnpublished != nil {
			c.onTrackUnpublished(e)
		}
		c.handlerMu.RUnlock()
	case "track_muted":
		var e TrackMuted
		_ = json.Unmarshal(raw, &e)
		c.applyTrackMuted(e)
		c.handlerMu.RLock()
		if c.onTrackMuted != nil {
			c.onTrackMuted(e)
		}
		c.handlerMu.RUnlock()
	case "active_speakers_changed":
		var e ActiveSpeakersChanged
		_ = json.Unmarshal(raw, &e)
		c.handlerMu.RLock()
		if c.onActiveSpeakersChanged != nil {
			c.onActiveSpeakersChanged(e)
		}
		c.handlerMu.RUnlock()
	case "transcription":
		var e TranscriptionReceived
		_ = json.Unmarshal(raw, &e)
		c.handlerMu.RLock()
		if c.onTranscriptionReceived != nil {
			c.onTranscriptionReceived(e)
		}
		c.handlerMu.RUnlock()
	case "chat_message":
		var e ChatMessageReceived
		_ = json.Unmarshal(raw, &e)
		c.handlerMu.RLock()
		if c.onChatMessageReceived != nil {
			c.onChatMessageReceived(e)
		}
		c.handlerMu.RUnlock()
	case "rpc_response":
		c.handleRPCResponse(raw)
	case "rpc_request":
		c.handleRPCRequest(raw)
	case "leave":
		var e Disconnected
		_ = json.Unmarshal(raw, &e)
		c.handlerMu.RLock()
		if c.onDisconnected != nil {
			c.onDisconnected(e)
		}
		c.handlerMu.RUnlock()
		_ = c.Close()
	default:
		// Log unknown event types for debugging
		c.log("unknown_event", map[string]any{"type": env.Type})
	}
}

// State mutation helpers, invoked from dispatch before callbacks run so
// that accessors already reflect the event being delivered.

func (c *Client) applyRoomJoined(e RoomJoined) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.room = e.Room
	c.local = e.Participant
	c.permissions = e.Permissions
	for i := range e.OtherParticipants {
		p := e.OtherParticipants[i]
		c.participants[p.Identity] = &p
	}
}

func (c *Client) applyParticipantJoined(e ParticipantJoined) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	p := e.Participant
	c.participants[p.Identity] = &p
	c.room.NumParticipants++
}

func (c *Client) applyParticipantLeft(e ParticipantLeft) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if _, ok := c.participants[e.Identity]; ok {
		delete(c.participants, e.Identity)
		if c.room.NumParticipants > 0 {
			c.room.NumParticipants--
		}
	}
}

// applyAttributesChanged merges the attribute update and returns the new
// agent state when the update belongs to an agent participant and carries
// a state transition.
func (c *Client) applyAttributesChanged(e ParticipantAttributesChanged) AgentState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	var target *ParticipantInfo
	if e.Identity == c.local.Identity {
		target = &c.local
	} else if p, ok := c.participants[e.Identity]; ok {
		target = p
	}
	if target == nil {
		return ""
	}
	if target.Attributes == nil {
		target.Attributes = make(map[string]string)
	}
	for k, v := range e.Attributes {
		target.Attributes[k] = v
	}
	if target.IsAgent() {
		if s, ok := e.Attributes[attrAgentState]; ok {
			return AgentState(s)
		}
	}
	return ""
}

// attrAgentState is the participant attribute the agent updates to expose
// its processing state.
const attrAgentState = "agent.state"

func (c *Client) applyTrackPublished(e TrackPublished) {
	c.stateMu.Lock()
	if e.ParticipantIdentity == c.local.Identity {
		c.local.Tracks = upsertTrack(c.local.Tracks, e.Track)
	} else if p, ok := c.participants[e.ParticipantIdentity]; ok {
		p.Tracks = upsertTrack(p.Tracks, e.Track)
	}
	c.stateMu.Unlock()

	// Resolve the pending local publication, if this acknowledges one.
	if e.CID != "" {
		c.mediaMu.Lock()
		if pub, ok := c.pubs[e.CID]; ok {
			pub.setInfo(e.Track)
		}
		c.mediaMu.Unlock()
	}
}

func (c *Client) applyTrackUnpublished(e TrackUnpublished) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if e.ParticipantIdentity == c.local.Identity {
		c.local.Tracks = removeTrack(c.local.Tracks, e.TrackSID)
	} else if p, ok := c.participants[e.ParticipantIdentity]; ok {
		p.Tracks = removeTrack(p.Tracks, e.TrackSID)
	}
}

func (c *Client) applyTrackMuted(e TrackMuted) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	tracks := c.local.Tracks
	if e.ParticipantIdentity != c.local.Identity {
		p, ok := c.participants[e.ParticipantIdentity]
		if !ok {
			return
		}
		tracks = p.Tracks
	}
	for i := range tracks {
		if tracks[i].SID == e.TrackSID {
			tracks[i].Muted = e.Muted
			return
		}
	}
}

func upsertTrack(tracks []TrackInfo, t TrackInfo) []TrackInfo {
	for i := range tracks {
		if tracks[i].SID == t.SID {
			tracks[i] = t
			return tracks
		}
	}
	return append(tracks, t)
}

func removeTrack(tracks []TrackInfo, sid string) []TrackInfo {
	for i := range tracks {
		if tracks[i].SID == sid {
			return append(tracks[:i], tracks[i+1:]...)
		}
	}
	return tracks
}

func (c *Client) send(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return NewSendError("unknown", fmt.Errorf("marshal payload: %w", err))
	}

	// Apply send timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = c.conn.Write(ctx, websocket.MessageText, b)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewSendError("unknown", ErrSendTimeout)
		}
		return NewSendError("unknown", err)
	}

	return nil
}

func (c *Client) log(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Info(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger(event, fields)
	}
}

func (c *Client) logError(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Error(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger("ERROR: "+event, fields)
	}
}
