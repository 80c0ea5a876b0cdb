package api

import (
	"encoding/base64"

	"github.com/goccy/go-json"
)

// Signal carries one leg of the offer/answer/candidate exchange.
// The relay rewrites To into From when forwarding to the target peer.
// Data holds a URL-encoded Base64+JSON description or candidate.
type Signal struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Data string `json:"data"`
}

// ToBase64Json encodes data to a URL-encoded Base64+JSON string.
func ToBase64Json(data any) (string, error) {
	if data == nil {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// FromBase64Json decodes data from a URL-encoded Base64+JSON string.
func FromBase64Json(data string, obj any) error {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}
