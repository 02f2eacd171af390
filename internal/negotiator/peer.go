package negotiator

import (
	"time"

	"github.com/BioHazard786/codedrop/internal/config"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/utils"
	"github.com/pion/webrtc/v4"
)

// Description is a session description as stored in the relay.
type Description struct {
	SDP       string `msgpack:"sdp"`
	Type      string `msgpack:"type"`
	Timestamp int64  `msgpack:"timestamp"`
}

func (d Description) session() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, ErrMalformedSignal
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// Candidate is a network path candidate as stored in the relay.
type Candidate struct {
	Candidate webrtc.ICECandidateInit `msgpack:"candidate"`
	Sender    string                  `msgpack:"sender"`
	Timestamp int64                   `msgpack:"timestamp"`
}

const (
	senderOfferer  = "offerer"
	senderAnswerer = "answerer"
)

func senderFor(r room.Role) string {
	if r == room.Initiator {
		return senderOfferer
	}
	return senderAnswerer
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// PeerConfiguration builds the ICE setup from the loaded configuration.
func PeerConfiguration(cfg *config.Config) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	turn := cfg.TURNServers()
	if turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turn != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}
