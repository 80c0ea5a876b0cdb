package signal

import (
	"github.com/goccy/go-json"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/com"
)

func (t *Transport) handleMessage(message []byte) {
	var in api.In[com.Uid]
	if err := json.Unmarshal(message, &in); err != nil {
		t.log.Error().Err(err).Msg("malformed packet")
		return
	}
	if err := t.route(in); err != nil {
		t.log.Error().Err(err).Msgf("%v packet fail", in.T)
	}
}

// route dispatches one inbound packet to its emitter.
// Unknown types are logged and skipped so new relay features don't
// break the dispatch loop.
func (t *Transport) route(in api.In[com.Uid]) error {
	t.log.Debug().Msgf("← %v", in.T)
	switch in.T {
	case api.AuthOk:
		t.ackAuth(true)
	case api.AuthFailed:
		if r := api.Unwrap[api.AuthFailure](in.Payload); r != nil && r.Reason != "" {
			t.log.Warn().Msgf("auth rejected: %v", r.Reason)
		}
		t.ackAuth(false)
	case api.RoomJoined:
		rq := api.Unwrap[api.RoomJoinedInfo](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.RoomJoined.Emit(*rq)
	case api.UserJoined:
		rq := api.Unwrap[api.UserJoinedInfo](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.UserJoined.Emit(*rq)
	case api.UserLeft:
		rq := api.Unwrap[api.UserLeftInfo](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.UserLeft.Emit(*rq)
	case api.Offer:
		rq := api.Unwrap[api.Signal](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.Offer.Emit(*rq)
	case api.Answer:
		rq := api.Unwrap[api.Signal](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.Answer.Emit(*rq)
	case api.IceCandidate:
		rq := api.Unwrap[api.Signal](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.Ice.Emit(*rq)
	case api.Chat:
		rq := api.Unwrap[api.ChatInfo](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.Chat.Emit(*rq)
	case api.Typing:
		rq := api.Unwrap[api.TypingInfo](in.Payload)
		if rq == nil {
			return api.ErrMalformed
		}
		t.Typing.Emit(*rq)
	default:
		t.log.Debug().Msgf("unknown packet %v", uint8(in.T))
	}
	return nil
}

func (t *Transport) ackAuth(ok bool) {
	t.mu.Lock()
	ch := t.authCh
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ok:
	default:
	}
}
