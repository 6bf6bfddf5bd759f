package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// dataChannelLabel names the single bidirectional channel each session
// carries.
const dataChannelLabel = "data"

// webrtcTransport is the default peer transport, built on pion.
type webrtcTransport struct {
	config webrtc.Configuration
}

// NewWebRTCTransport builds a transport using the given STUN and TURN
// servers. TURN entries that do not match the turn[s]:<host>[:<port>]
// grammar are skipped with a warning.
func NewWebRTCTransport(stunServers []string, turnServers []TURNServer) Transport {
	var iceServers []webrtc.ICEServer
	if len(stunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stunServers})
	}
	for _, turn := range turnServers {
		if _, err := ParseTURNURL(turn.URL); err != nil {
			log.Warn().Err(err).Str("url", turn.URL).Msg("[P2P] skipping invalid TURN server")
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{turn.URL},
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}
	return &webrtcTransport{config: webrtc.Configuration{ICEServers: iceServers}}
}

func (t *webrtcTransport) NewSession(peerID string, initiator bool, events SessionEvents) (Session, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &webrtcSession{pc: pc, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		init := c.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		events.OnLocalCandidate(init.Candidate, mid)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer", peerID).Str("state", state.String()).Msg("[P2P] connection state")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.fireClose()
		}
	})

	if initiator {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		s.attachChannel(dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("set local description: %w", err)
		}
		if events.OnLocalDescription != nil {
			events.OnLocalDescription("offer", offer.SDP)
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			s.attachChannel(dc)
		})
	}

	return s, nil
}

type webrtcSession struct {
	pc     *webrtc.PeerConnection
	events SessionEvents

	mu sync.Mutex
	dc *webrtc.DataChannel

	closeOnce sync.Once
}

func (s *webrtcSession) attachChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		if s.events.OnOpen != nil {
			s.events.OnOpen()
		}
	})
	dc.OnClose(func() {
		s.fireClose()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			if s.events.OnText != nil {
				s.events.OnText(string(msg.Data))
			}
			return
		}
		if s.events.OnBinary != nil {
			s.events.OnBinary(msg.Data)
		}
	})
}

func (s *webrtcSession) fireClose() {
	s.closeOnce.Do(func() {
		if s.events.OnClose != nil {
			s.events.OnClose()
		}
	})
}

func (s *webrtcSession) SetRemoteDescription(kind, sdp string) error {
	var sdpType webrtc.SDPType
	switch kind {
	case "offer":
		sdpType = webrtc.SDPTypeOffer
	case "answer":
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("%w: unknown description type %q", ErrInvalidData, kind)
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if sdpType != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if s.events.OnLocalDescription != nil {
		s.events.OnLocalDescription("answer", answer.SDP)
	}
	return nil
}

func (s *webrtcSession) AddRemoteCandidate(candidate, mid string) error {
	init := webrtc.ICECandidateInit{Candidate: candidate}
	if mid != "" {
		init.SDPMid = &mid
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (s *webrtcSession) openChannel() (*webrtc.DataChannel, error) {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, ErrChannelNotOpen
	}
	return dc, nil
}

func (s *webrtcSession) SendText(text string) error {
	dc, err := s.openChannel()
	if err != nil {
		return err
	}
	return dc.SendText(text)
}

func (s *webrtcSession) SendBinary(data []byte) error {
	dc, err := s.openChannel()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (s *webrtcSession) Close() error {
	s.fireClose()
	return s.pc.Close()
}
