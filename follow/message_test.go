package follow

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeFollowMessage(t *testing.T) {
	frame, err := EncodeFollowMessage(&FollowMessage{
		ToFollow:      "b@x.com",
		FollowRequest: "a@x.com",
		IsFollowing:   true,
		Followers:     5,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(frame), `{"toFollow":"b@x.com","followRequest":"a@x.com","isFollowing":true,"followers":5}`)
}

func TestDecodeFollowMessage(t *testing.T) {
	message, err := DecodeFollowMessage([]byte(`{"followers":5,"isFollowing":false,"toFollow":"b@x.com","followRequest":"a@x.com"}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, message, &FollowMessage{
		ToFollow:      "b@x.com",
		FollowRequest: "a@x.com",
		IsFollowing:   false,
		Followers:     5,
	})
}

func TestDecodeFollowMessageUnknownFields(t *testing.T) {
	// newer senders may add optional fields
	message, err := DecodeFollowMessage([]byte(`{"toFollow":"b@x.com","followRequest":"a@x.com","isFollowing":true,"followers":5,"sentAt":123}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, message.ToFollow, "b@x.com")
	assert.Equal(t, message.IsFollowing, true)
}

func TestDecodeFollowMessageMalformed(t *testing.T) {
	frames := []string{
		``,
		`{`,
		`not json`,
		`42`,
		`null`,
		`{}`,
		`{"toFollow": 3}`,
		`["b@x.com"]`,
	}
	for _, frame := range frames {
		message, err := DecodeFollowMessage([]byte(frame))
		assert.Equal(t, message, nil)
		assert.Equal(t, errors.Is(err, ErrMalformedFrame), true)
	}
}
