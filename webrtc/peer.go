// Package webrtc provides the media-plane implementation for agentroom
// sessions: a pion-based peer that publishes local tracks, receives the
// agent's audio, and carries the data channel used for RPC, plus helpers
// for fetching connection details from the agent-gateway.
package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	room "github.com/mertkarav/agentroom"
)

// ErrDataChannelClosed is returned by SendData before the channel opens or
// after the peer closes.
var ErrDataChannelClosed = errors.New("webrtc: data channel is not open")

// Options configures a media peer.
type Options struct {
	// ServerURL is the session server base URL; the SDP exchange happens
	// against MediaURL(ServerURL). Required.
	ServerURL string
	// Token is the participant token, sent as a Bearer credential on the
	// SDP exchange. Required.
	Token string
	// ICEServers overrides the default ICE configuration.
	ICEServers []pion.ICEServer
	// OnAudioRTP is invoked periodically with the number of agent audio
	// packets received, for liveness observation.
	OnAudioRTP func(pkts uint64)
}

// Peer is a WebRTC media peer for one session. It implements the
// agentroom.MediaTransport interface: local tracks publish through it and
// data-plane payloads ride its "agent-data" channel.
type Peer struct {
	pc *pion.PeerConnection
	dc *pion.DataChannel

	dcOpen chan struct{}

	mu        sync.Mutex
	onMessage func([]byte)
	pumps     map[string]*trackPump
	closed    bool
}

// trackPump drives one published track: a goroutine reads frames from the
// source and writes them to the pion track until cancel or source EOF.
type trackPump struct {
	cancel context.CancelFunc
	sender *pion.RTPSender
	src    room.SampleSource
}

// Connect establishes the media peer: creates the peer connection and data
// channel, adds a receive-only audio transceiver for the agent's voice,
// and performs the SDP offer/answer exchange with the session server.
func Connect(ctx context.Context, opt Options) (*Peer, error) {
	if opt.ServerURL == "" || opt.Token == "" {
		return nil, errors.New("webrtc: server URL and token are required")
	}
	cfg := pion.Configuration{}
	if len(opt.ICEServers) > 0 {
		cfg.ICEServers = opt.ICEServers
	}
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		pc:     pc,
		dcOpen: make(chan struct{}),
		pumps:  make(map[string]*trackPump),
	}

	dc, err := pc.CreateDataChannel("agent-data", nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	p.dc = dc
	dc.OnOpen(func() { close(p.dcOpen) })
	dc.OnMessage(func(m pion.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onMessage
		p.mu.Unlock()
		if fn != nil {
			fn(m.Data)
		}
	})

	_, err = pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	if opt.OnAudioRTP != nil {
		pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
			var pkts uint64
			buf := make([]byte, 1500)
			for {
				_, _, e := track.Read(buf)
				if e != nil {
					return
				}
				pkts++
				if pkts%200 == 0 {
					opt.OnAudioRTP(pkts)
				}
			}
		})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}

	answer, err := exchangeSDP(ctx, MediaURL(opt.ServerURL), opt.Token, offer.SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		pc.Close()
		return nil, err
	}

	return p, nil
}

// exchangeSDP posts the local offer to the session server and returns the
// remote answer SDP.
func exchangeSDP(ctx context.Context, url, token, offerSDP string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(offerSDP))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")
	httpClient := &http.Client{Timeout: 20 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("SDP exchange failed: %d: %s", resp.StatusCode, string(b))
	}
	return string(b), nil
}

// SetMessageHandler installs the callback for payloads received on the
// data channel. Wire this to Client.HandleDataMessage so agent RPCs reach
// the session client's dispatcher.
func (p *Peer) SetMessageHandler(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

// WaitReady blocks until the data channel opens or ctx is done.
func (p *Peer) WaitReady(ctx context.Context) error {
	select {
	case <-p.dcOpen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishTrack adds a local track fed from src and starts its sample pump.
// The pump stops on source EOF, UnpublishTrack, or Close.
func (p *Peer) PublishTrack(ctx context.Context, cid string, kind room.TrackKind, src room.SampleSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("webrtc: peer is closed")
	}
	if _, exists := p.pumps[cid]; exists {
		return fmt.Errorf("webrtc: track %q already published", cid)
	}

	streamID := "agentroom"
	if kind == room.TrackKindScreenShare {
		streamID = "agentroom-screen"
	}
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: src.MimeType()}, cid, streamID,
	)
	if err != nil {
		return err
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	pump := &trackPump{cancel: cancel, sender: sender, src: src}
	p.pumps[cid] = pump

	// Drain RTCP so interceptors keep functioning.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	go func() {
		defer src.Close()
		for {
			sample, err := src.NextSample(pumpCtx)
			if err != nil {
				return
			}
			if err := track.WriteSample(media.Sample{Data: sample.Data, Duration: sample.Duration}); err != nil {
				return
			}
		}
	}()

	return nil
}

// UnpublishTrack stops the sample pump and removes the track from the
// peer connection.
func (p *Peer) UnpublishTrack(cid string) error {
	p.mu.Lock()
	pump, ok := p.pumps[cid]
	if ok {
		delete(p.pumps, cid)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtc: track %q not published", cid)
	}

	pump.cancel()
	return p.pc.RemoveTrack(pump.sender)
}

// SendData delivers a payload on the data channel.
func (p *Peer) SendData(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || p.dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrDataChannelClosed
	}
	return p.dc.Send(payload)
}

// Close stops all sample pumps and tears down the peer connection.
// Safe to call multiple times.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pumps := p.pumps
	p.pumps = make(map[string]*trackPump)
	p.mu.Unlock()

	for _, pump := range pumps {
		pump.cancel()
	}
	return p.pc.Close()
}
