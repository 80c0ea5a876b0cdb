package session

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/network/socket"
)

// ApiFactory builds peer connections sharing one media engine,
// interceptor chain, and transport settings.
type ApiFactory struct {
	api *webrtc.API
}

type ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)

func NewApiFactory(conf config.Webrtc, log *logger.Logger, mod ModApiFun) (*ApiFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}
	customLogger := NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	if conf.HasPortRange() {
		if err := s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	if conf.HasSinglePort() {
		udp, err := socket.ListenUDPRoll("udp", conf.SinglePort)
		if err != nil {
			return nil, err
		}
		s.SetICEUDPMux(webrtc.NewICEUDPMux(customLogger, udp))
		log.Info().Msgf("The single port mode is active for %s", udp.LocalAddr())
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	return &ApiFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
	}, nil
}

// NewPeer spawns a connection over the given ICE servers. The list
// is taken per call since relay credentials rotate.
func (a *ApiFactory) NewPeer(servers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}
