package agentroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MediaSample is one encoded media frame handed to the transport.
type MediaSample struct {
	Data     []byte        // Encoded frame (opus packet, vp8/h264 frame)
	Duration time.Duration // Presentation duration of the frame
}

// SampleSource supplies encoded media frames for a local track. Sources
// wrap whatever capture/encode pipeline the application uses; acquisition
// failures surface as errors from the constructor of the concrete source,
// the Go counterpart of a denied device permission prompt.
type SampleSource interface {
	// Kind reports the track kind the source produces.
	Kind() TrackKind
	// MimeType reports the RTP payload format, e.g. "audio/opus" or "video/VP8".
	MimeType() string
	// NextSample blocks until the next frame is available. Returning an
	// error (io.EOF included) ends the track's sample pump.
	NextSample(ctx context.Context) (MediaSample, error)
	// Close releases the underlying capture resources.
	Close() error
}

// MediaTransport moves media frames and data-plane payloads for a session.
// The webrtc subpackage provides the production implementation; tests
// substitute fakes.
type MediaTransport interface {
	// PublishTrack starts sending frames from src under the client-chosen id.
	PublishTrack(ctx context.Context, cid string, kind TrackKind, src SampleSource) error
	// UnpublishTrack stops the sample pump and removes the track.
	UnpublishTrack(cid string) error
	// SendData delivers a data-plane payload (RPC envelopes, chat).
	SendData(ctx context.Context, payload []byte) error
	// Close tears down the transport.
	Close() error
}

// PublishOptions customizes a local track publication.
type PublishOptions struct {
	// Name is the publisher-chosen track name shown to other participants.
	// Defaults to the track kind.
	Name string
	// Muted publishes the track in a muted state.
	Muted bool
}

// LocalTrackPublication tracks the lifecycle of one published local track.
// The server-assigned SID becomes available once the publish is
// acknowledged by a track_published event.
type LocalTrackPublication struct {
	cid  string
	kind TrackKind
	name string

	mu    sync.Mutex
	info  TrackInfo
	ready chan struct{}
}

// CID returns the client-chosen id used to correlate the server's
// acknowledgment.
func (p *LocalTrackPublication) CID() string { return p.cid }

// Kind returns the published track's kind.
func (p *LocalTrackPublication) Kind() TrackKind { return p.kind }

// Info returns the server's view of the track. Zero until acknowledged.
func (p *LocalTrackPublication) Info() TrackInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// WaitReady blocks until the server acknowledges the publication or ctx
// is done.
func (p *LocalTrackPublication) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *LocalTrackPublication) setInfo(info TrackInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info.SID == "" {
		defer close(p.ready)
	}
	p.info = info
}

// AttachMedia wires a media transport into the client. Track publishing and
// data-plane sends prefer the transport once attached. Wire the transport's
// inbound messages back with HandleDataMessage so agent RPCs and events
// arriving on the data channel reach the same dispatcher as signaling.
func (c *Client) AttachMedia(m MediaTransport) {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	c.media = m
}

// HandleDataMessage feeds a payload received on the media transport's data
// channel into the client's event dispatcher.
func (c *Client) HandleDataMessage(data []byte) {
	c.handleRaw(data)
}

// PublishTrack publishes a local track sourced from src. The access token
// must grant publishing (ErrPermissionDenied otherwise) and a media
// transport must be attached (ErrNoMediaPeer otherwise).
//
// The returned publication resolves once the server acknowledges the
// publish; use WaitReady to block on the acknowledgment.
func (c *Client) PublishTrack(ctx context.Context, src SampleSource, opts PublishOptions) (*LocalTrackPublication, error) {
	if src == nil {
		return nil, NewSendError("add_track", errors.New("source cannot be nil"))
	}
	if !c.Permissions().CanPublish {
		return nil, ErrPermissionDenied
	}

	c.mediaMu.Lock()
	media := c.media
	c.mediaMu.Unlock()
	if media == nil {
		return nil, ErrNoMediaPeer
	}

	kind := src.Kind()
	name := opts.Name
	if name == "" {
		name = string(kind)
	}

	pub := &LocalTrackPublication{
		cid:   uuid.NewString(),
		kind:  kind,
		name:  name,
		ready: make(chan struct{}),
	}

	// Register the pending publication before announcing it. The server's
	// track_published acknowledgment can arrive while the transport is
	// still negotiating, and it must find the entry to resolve.
	c.mediaMu.Lock()
	c.pubs[pub.cid] = pub
	c.mediaMu.Unlock()

	err := c.send(ctx, map[string]any{
		"type":  "add_track",
		"cid":   pub.cid,
		"name":  name,
		"kind":  kind,
		"muted": opts.Muted,
	})
	if err != nil {
		c.dropPublication(pub.cid)
		return nil, err
	}

	if err := media.PublishTrack(ctx, pub.cid, kind, src); err != nil {
		// Roll back the announcement so the server does not hold a
		// track that will never carry media.
		c.dropPublication(pub.cid)
		_ = c.send(ctx, map[string]any{"type": "remove_track", "cid": pub.cid})
		return nil, err
	}

	c.log("track_publishing", map[string]any{"cid": pub.cid, "kind": kind, "name": name})
	return pub, nil
}

func (c *Client) dropPublication(cid string) {
	c.mediaMu.Lock()
	delete(c.pubs, cid)
	c.mediaMu.Unlock()
}

// UnpublishTrack removes a previously published local track.
func (c *Client) UnpublishTrack(ctx context.Context, pub *LocalTrackPublication) error {
	if pub == nil {
		return NewSendError("remove_track", errors.New("publication cannot be nil"))
	}

	c.mediaMu.Lock()
	media := c.media
	delete(c.pubs, pub.cid)
	c.mediaMu.Unlock()

	if media != nil {
		if err := media.UnpublishTrack(pub.cid); err != nil {
			c.logError("media_unpublish_failed", map[string]any{"cid": pub.cid, "err": err})
		}
	}

	msg := map[string]any{"type": "remove_track", "cid": pub.cid}
	if sid := pub.Info().SID; sid != "" {
		msg["sid"] = sid
	}
	return c.send(ctx, msg)
}

// SetTrackMuted mutes or unmutes a local track publication. Muting keeps
// the track negotiated but stops sending frames; the server fans the state
// change out as track_muted events.
func (c *Client) SetTrackMuted(ctx context.Context, pub *LocalTrackPublication, muted bool) error {
	if pub == nil {
		return NewSendError("mute_track", errors.New("publication cannot be nil"))
	}
	sid := pub.Info().SID
	if sid == "" {
		return NewSendError("mute_track", errors.New("publication not yet acknowledged"))
	}
	return c.send(ctx, map[string]any{"type": "mute_track", "sid": sid, "muted": muted})
}
