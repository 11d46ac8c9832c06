package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	apperrors "github.com/carelink/callsignal/internal/errors"
)

const (
	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// WebRTCTransport builds Pion peer connections. The initiator creates its
// offer during Bootstrap so the SDP is ready the moment the far side
// accepts; the joiner creates the connection and waits for the offer.
type WebRTCTransport struct {
	iceServers []webrtc.ICEServer
}

func NewWebRTCTransport(iceServers []webrtc.ICEServer) *WebRTCTransport {
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return &WebRTCTransport{iceServers: iceServers}
}

func (t *WebRTCTransport) Bootstrap(ctx context.Context, sessionKey string, role Role) (Session, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, apperrors.TransportFailure(err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, apperrors.TransportFailure(err)
	}

	// Default ICE disconnect timeout is 5s, too short for relay paths
	// that blip during re-keying. Give ICE room to recover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return nil, apperrors.TransportFailure(err)
	}

	sess := &webrtcSession{key: sessionKey, pc: pc}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("session_key", sessionKey).Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			sess.fireConnected()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			sess.fireDisconnected()
		}
	})

	if role == RoleInitiator {
		// Recvonly transceivers guarantee valid m-lines with ICE
		// credentials in the offer even before local media is attached.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, apperrors.TransportFailure(err)
			}
		}

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			_ = pc.Close()
			return nil, apperrors.TransportFailure(err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			_ = pc.Close()
			return nil, apperrors.TransportFailure(err)
		}
	}

	log.Info().Str("session_key", sessionKey).Str("role", string(role)).Msg("transport session bootstrapped")
	return sess, nil
}

type webrtcSession struct {
	key string
	pc  *webrtc.PeerConnection

	mu             sync.Mutex
	onConnected    func()
	onDisconnected func()
	connectedFired bool
	closed         bool
}

func (s *webrtcSession) Key() string { return s.key }

func (s *webrtcSession) OnConnected(fn func()) {
	s.mu.Lock()
	s.onConnected = fn
	s.mu.Unlock()
}

func (s *webrtcSession) OnDisconnected(fn func()) {
	s.mu.Lock()
	s.onDisconnected = fn
	s.mu.Unlock()
}

func (s *webrtcSession) fireConnected() {
	s.mu.Lock()
	if s.connectedFired || s.closed {
		s.mu.Unlock()
		return
	}
	s.connectedFired = true
	fn := s.onConnected
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *webrtcSession) fireDisconnected() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.onDisconnected
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *webrtcSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.pc.Close()
}
