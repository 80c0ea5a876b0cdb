package session

import (
	"fmt"
	"strings"
)

// Policy rewrites a locally created session description before it
// goes out, e.g. pinning codec parameters every peer should use.
// Policies are pure string transforms so they can be swapped or
// stubbed without a media stack behind them.
type Policy interface {
	Apply(sdp string) string
}

// NopPolicy sends descriptions exactly as generated.
type NopPolicy struct{}

func (NopPolicy) Apply(sdp string) string { return sdp }

// OpusParams pins Opus fmtp parameters on outgoing descriptions so
// the remote encoder honours our decode preferences.
type OpusParams struct {
	// Bitrate caps maxaveragebitrate in bps, 0 keeps the default.
	Bitrate int
	Stereo  bool
	// FEC asks for inband forward error correction.
	FEC bool
}

const fmtpPrefix = "a=fmtp:"
const rtpmapPrefix = "a=rtpmap:"

func (o OpusParams) Apply(sdp string) string {
	lines := strings.Split(sdp, "\r\n")
	pts := opusPayloadTypes(lines)
	if len(pts) == 0 {
		return sdp
	}
	for i, l := range lines {
		if !strings.HasPrefix(l, fmtpPrefix) {
			continue
		}
		rest := l[len(fmtpPrefix):]
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			continue
		}
		if _, ok := pts[rest[:sp]]; !ok {
			continue
		}
		lines[i] = fmtpPrefix + rest[:sp] + " " + mergeParams(rest[sp+1:], o.params())
	}
	return strings.Join(lines, "\r\n")
}

func (o OpusParams) params() []string {
	var p []string
	if o.Stereo {
		p = append(p, "stereo=1", "sprop-stereo=1")
	}
	if o.Bitrate > 0 {
		p = append(p, fmt.Sprintf("maxaveragebitrate=%d", o.Bitrate))
	}
	if o.FEC {
		p = append(p, "useinbandfec=1")
	}
	return p
}

func opusPayloadTypes(lines []string) map[string]struct{} {
	pts := make(map[string]struct{})
	for _, l := range lines {
		if !strings.HasPrefix(l, rtpmapPrefix) {
			continue
		}
		rest := l[len(rtpmapPrefix):]
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 || !strings.HasPrefix(rest[sp+1:], "opus/") {
			continue
		}
		pts[rest[:sp]] = struct{}{}
	}
	return pts
}

// mergeParams overrides the existing key=value list with the given
// pairs, keeping the original order of untouched entries.
func mergeParams(existing string, override []string) string {
	out := strings.Split(existing, ";")
	seen := make(map[string]int, len(out))
	for i, kv := range out {
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			seen[kv[:eq]] = i
		}
	}
	for _, kv := range override {
		key := kv[:strings.IndexByte(kv, '=')]
		if i, ok := seen[key]; ok {
			out[i] = kv
		} else {
			out = append(out, kv)
		}
	}
	return strings.Join(out, ";")
}
