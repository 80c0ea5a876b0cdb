package api

type (
	AuthRequest struct {
		Token string `json:"token"`
	}
	AuthFailure struct {
		Reason string `json:"reason,omitempty"`
	}
	JoinRequest struct {
		Rid      string `json:"room_id"`
		Username string `json:"username"`
	}
	User struct {
		Id       string `json:"id"`
		Username string `json:"username"`
	}
	RoomJoinedInfo struct {
		Rid   string `json:"room_id"`
		Users []User `json:"users"`
	}
	UserJoinedInfo struct {
		From     string `json:"from"`
		Username string `json:"username"`
	}
	UserLeftInfo struct {
		From     string `json:"from"`
		Username string `json:"username"`
	}
	ChatInfo struct {
		From     string `json:"from,omitempty"`
		Username string `json:"username,omitempty"`
		Text     string `json:"text"`
	}
	TypingInfo struct {
		From   string `json:"from,omitempty"`
		Active bool   `json:"active"`
	}
)
