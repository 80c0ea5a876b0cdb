// Package ice supplies the NAT-traversal server list for new peer
// connections, refreshing relay credentials before they expire.
package ice

import (
	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/config"
)

func NewIceServer(url string) config.IceServer {
	return config.IceServer{Urls: url}
}

func NewIceServerCredentials(url string, user string, credential string) config.IceServer {
	return config.IceServer{Urls: url, Username: user, Credential: credential}
}

// Defaults is the public reflection set used until a fetch succeeds,
// so connections are never created with an empty server list.
func Defaults() []config.IceServer {
	return []config.IceServer{
		NewIceServer("stun:stun.l.google.com:19302"),
		NewIceServer("stun:stun1.l.google.com:19302"),
	}
}

// Webrtc converts the configured server list to the pion form.
func Webrtc(servers []config.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if s.Urls == "" {
			continue
		}
		ice := webrtc.ICEServer{URLs: []string{s.Urls}}
		if s.Username != "" && s.Credential != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		out = append(out, ice)
	}
	return out
}
