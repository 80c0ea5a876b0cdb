package api

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/xid"
)

type uid struct{ xid.ID }

func TestPacketRoundTrip(t *testing.T) {
	out := Out{T: uint8(Offer), Payload: Signal{To: "p1", Data: "abc"}}
	b, err := json.Marshal(&out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var in In[uid]
	if err := json.Unmarshal(b, &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.T != Offer {
		t.Errorf("unexpected type: %v", in.T)
	}
	sig := Unwrap[Signal](in.Payload)
	if sig == nil || sig.To != "p1" || sig.Data != "abc" {
		t.Errorf("unexpected payload: %+v", sig)
	}
}

func TestUnwrapMalformed(t *testing.T) {
	if out := Unwrap[Signal]([]byte("{")); out != nil {
		t.Errorf("expected nil for malformed payload, got %+v", out)
	}
}

func TestBase64Json(t *testing.T) {
	type desc struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	in := desc{Type: "offer", SDP: "v=0\r\n"}
	s, err := ToBase64Json(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got desc
	if err := FromBase64Json(s, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != in {
		t.Errorf("round trip mismatch: %+v != %+v", got, in)
	}
	if err := FromBase64Json("???", &got); err == nil {
		t.Errorf("expected an error for bad input")
	}
}

func TestPacketTypeNames(t *testing.T) {
	if Offer.String() != "Offer" || PT(255).String() != "Unknown" {
		t.Errorf("unexpected names: %v %v", Offer, PT(255))
	}
}
