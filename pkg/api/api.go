// Package api defines the client-relay signaling API.
//
// Each message (both directions) is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is possible
// to unwrap the payload into distinct request/response data structures.
// The id field is used for tracking packets through the relay, for example,
// matching a forwarded offer to its origin in the relay logs.
//
// Example:
//
//	{"t":20,"p":{"to":"cfv68irdrc3ifu3jn6bg","data":"eyJ0eXBlIjoib2ZmZXIi..."}}
package api

import (
	"fmt"

	"github.com/goccy/go-json"
)

type (
	Id interface {
		String() string
	}
	PT uint16
)

type In[I Id] struct {
	Id      I               `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

func (i In[I]) GetId() I           { return i.Id }
func (i In[I]) GetPayload() []byte { return i.Payload }
func (i In[I]) GetType() PT        { return i.T }

type Out struct {
	Id      string `json:"id,omitempty"` // string because omitempty won't work as intended with arrays
	T       uint8  `json:"t"`
	Payload any    `json:"p,omitempty"`
}

func (o *Out) SetId(s string)   { o.Id = s }
func (o *Out) SetType(u uint8)  { o.T = u }
func (o *Out) SetPayload(a any) { o.Payload = a }

// Packet codes:
//
//	 x - handshake codes
//	1xx - room membership codes
//	2xx - peer signaling codes
//	3xx - application codes (opaque to the core)
const (
	Auth         PT = 1
	AuthOk       PT = 2
	AuthFailed   PT = 3
	Join         PT = 100
	RoomJoined   PT = 101
	UserJoined   PT = 102
	UserLeft     PT = 103
	Leave        PT = 104
	Offer        PT = 200
	Answer       PT = 201
	IceCandidate PT = 202
	Chat         PT = 300
	Typing       PT = 301
)

func (p PT) String() string {
	switch p {
	case Auth:
		return "Auth"
	case AuthOk:
		return "AuthOk"
	case AuthFailed:
		return "AuthFailed"
	case Join:
		return "Join"
	case RoomJoined:
		return "RoomJoined"
	case UserJoined:
		return "UserJoined"
	case UserLeft:
		return "UserLeft"
	case Leave:
		return "Leave"
	case Offer:
		return "Offer"
	case Answer:
		return "Answer"
	case IceCandidate:
		return "IceCandidate"
	case Chat:
		return "Chat"
	case Typing:
		return "Typing"
	default:
		return "Unknown"
	}
}

var ErrMalformed = fmt.Errorf("malformed")

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
