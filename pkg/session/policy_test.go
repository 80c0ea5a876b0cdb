package session

import (
	"strings"
	"testing"
)

func TestOpusParamsApply(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=- 123 2 IN IP4 127.0.0.1",
		"s=-",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111 103",
		"a=rtpmap:111 opus/48000/2",
		"a=fmtp:111 minptime=10;useinbandfec=0",
		"a=rtpmap:103 ISAC/16000",
		"a=fmtp:103 mode=30",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"a=rtpmap:96 VP8/90000",
	}, "\r\n")

	got := OpusParams{Bitrate: 128000, Stereo: true, FEC: true}.Apply(sdp)

	want := "a=fmtp:111 minptime=10;useinbandfec=1;stereo=1;sprop-stereo=1;maxaveragebitrate=128000"
	if !strings.Contains(got, want) {
		t.Errorf("expected %q in:\n%v", want, got)
	}
	if n := strings.Count(got, "useinbandfec"); n != 1 {
		t.Errorf("fec param duplicated %v times", n)
	}
	if !strings.Contains(got, "a=fmtp:103 mode=30") {
		t.Errorf("unrelated codec params were touched:\n%v", got)
	}
}

func TestOpusParamsNoOpus(t *testing.T) {
	sdp := "v=0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\na=rtpmap:96 VP8/90000"
	if got := (OpusParams{Bitrate: 64000}).Apply(sdp); got != sdp {
		t.Errorf("no opus media, description must stay intact:\n%v", got)
	}
}

func TestNopPolicy(t *testing.T) {
	const sdp = "v=0\r\ns=-"
	if got := (NopPolicy{}).Apply(sdp); got != sdp {
		t.Errorf("nop policy changed the description: %v", got)
	}
}
