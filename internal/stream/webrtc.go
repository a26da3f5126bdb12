package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	log "github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/phrasegen/internal/audio"
)

const defaultOpusBitrate = 128000

// WebRTCOptions tunes the WebRTC transport.
type WebRTCOptions struct {
	Bitrate    int      // Opus bits per second; 0 uses 128 kbit/s
	ICEServers []string // STUN/TURN URLs; empty means host candidates only
}

// WebRTCHandler answers SDP offers with a session carrying the radio as Opus.
// Each peer owns one broadcaster listener for as long as it stays connected.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	opts        WebRTCOptions

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster, opts WebRTCOptions) *WebRTCHandler {
	if opts.Bitrate <= 0 {
		opts.Bitrate = defaultOpusBitrate
	}
	return &WebRTCHandler{
		broadcaster: b,
		opts:        opts,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiateError carries the HTTP status a failed negotiation maps to.
type negotiateError struct {
	status int
	msg    string
	err    error
}

func (e *negotiateError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }
func (e *negotiateError) Unwrap() error { return e.err }

func fail(status int, msg string, err error) error {
	return &negotiateError{status: status, msg: msg, err: err}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	logger := log.WithField("remote", r.RemoteAddr)
	pc, track, err := h.negotiate(offer)
	if err != nil {
		var ne *negotiateError
		if errors.As(err, &ne) {
			logger.WithError(ne.err).Warn("WebRTC: " + ne.msg)
			http.Error(w, ne.msg, ne.status)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	listener := h.broadcaster.Subscribe(TransportWebRTC)
	h.mu.Lock()
	h.peers[pc] = listener
	h.mu.Unlock()
	logger.WithField("peers", h.PeerCount()).Info("WebRTC peer connected")

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.hangUp(pc) {
				logger.WithFields(log.Fields{"state": s.String(), "peers": h.PeerCount()}).Info("WebRTC peer disconnected")
			}
		}
	})
	go h.sendOpus(listener, track, logger)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(pc.LocalDescription()); err != nil {
		logger.WithError(err).Warn("WebRTC: write answer")
	}
}

// negotiate builds a peer connection with one Opus track, applies the offer,
// and waits for ICE gathering so the answer carries every candidate.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	var cfg webrtc.Configuration
	if len(h.opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: h.opts.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, fail(http.StatusInternalServerError, "create peer connection failed", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"phrasegen-radio",
	)
	if err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "create audio track failed", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "add track failed", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusBadRequest, "set remote description failed", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "create answer failed", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "set local description failed", err)
	}
	<-gathered
	return pc, track, nil
}

// sendOpus encodes the listener's 20ms frames and writes them to the track
// until the listener is released.
func (h *WebRTCHandler) sendOpus(l *Listener, track *webrtc.TrackLocalStaticSample, logger log.FieldLogger) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logger.WithError(err).Error("WebRTC: opus encoder")
		return
	}
	if err := enc.SetBitrate(h.opts.Bitrate); err != nil {
		logger.WithError(err).WithField("bitrate", h.opts.Bitrate).Warn("WebRTC: opus bitrate rejected")
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				logger.WithError(err).Debug("WebRTC: opus encode")
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: audio.FrameDuration}
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}

// hangUp releases a peer's listener and closes the connection. It reports
// false when the peer was already gone.
func (h *WebRTCHandler) hangUp(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.broadcaster.Unsubscribe(l)
	pc.Close()
	return true
}

// Close hangs up every connected peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.mu.Unlock()
	for _, pc := range peers {
		h.hangUp(pc)
	}
}
