package follow

import (
	"encoding/json"
	"fmt"
)

// Wire format of the realtime channel. One json text frame per event,
// the transport keeps message boundaries so there is no other framing.
//
// Extending the message: add optional fields with `omitempty`, never rename or repurpose an
// existing field. Unknown fields are ignored on decode so older clients keep working.

// `followRequest` changed their follow state with respect to `toFollow`
type FollowMessage struct {
	ToFollow      string `json:"toFollow"`
	FollowRequest string `json:"followRequest"`
	IsFollowing   bool   `json:"isFollowing"`
	// the last server count of `toFollow` known to the sender.
	// kept for wire compatibility. Receivers do not treat it as authoritative.
	Followers int `json:"followers"`
}

func EncodeFollowMessage(message *FollowMessage) ([]byte, error) {
	return json.Marshal(message)
}

func DecodeFollowMessage(frame []byte) (*FollowMessage, error) {
	message := &FollowMessage{}
	if err := json.Unmarshal(frame, message); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	if message.ToFollow == "" && message.FollowRequest == "" {
		return nil, fmt.Errorf("%w: missing toFollow and followRequest", ErrMalformedFrame)
	}
	return message, nil
}
