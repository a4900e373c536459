package follow

import (
	"fmt"

	"github.com/golang/glog"
)

// best effort send, false when dropped
type Sender interface {
	Send(message []byte) bool
}

type FollowCoordinatorSettings struct {
	// Restores the prior count when the follow message could not be sent.
	// Off by default: the optimistic count stays, and the local count can diverge from
	// the remote until the next reload.
	RollbackOnDropped bool
}

func DefaultFollowCoordinatorSettings() *FollowCoordinatorSettings {
	return &FollowCoordinatorSettings{
		RollbackOnDropped: false,
	}
}

type ToggleResult struct {
	IsFollowing bool
	// the count dispatched for the viewed user
	Count   int
	Sent    bool
	Message *FollowMessage
}

// Optimistic follow/unfollow: the store is updated before the message goes out,
// and there is no server acknowledgment.
type FollowCoordinator struct {
	store       *FollowerStore
	sender      Sender
	sessionUser LocalUserFunction
	settings    *FollowCoordinatorSettings
}

func NewFollowCoordinator(
	store *FollowerStore,
	sender Sender,
	sessionUser LocalUserFunction,
	settings *FollowCoordinatorSettings,
) *FollowCoordinator {
	return &FollowCoordinator{
		store:       store,
		sender:      sender,
		sessionUser: sessionUser,
		settings:    settings,
	}
}

// `acting` must be the session user and differ from `viewed`.
// An error means nothing was dispatched or sent.
func (self *FollowCoordinator) ToggleFollow(viewed *User, acting *User, priorIsFollowing bool) (*ToggleResult, error) {
	sessionUser := self.sessionUser()
	if sessionUser == nil || acting == nil || acting.Email != sessionUser.Email {
		return nil, ErrNotSessionUser
	}
	if viewed.Email == acting.Email {
		return nil, ErrSelfFollow
	}

	priorCount := self.store.FollowerCount(viewed.Email, viewed.Followers)
	nextIsFollowing := !priorIsFollowing
	var nextCount int
	if nextIsFollowing {
		nextCount = priorCount + 1
	} else {
		nextCount = priorCount - 1
	}

	self.store.Dispatch(UpdateFollowerCount{
		Email: viewed.Email,
		Count: nextCount,
	})

	message := &FollowMessage{
		ToFollow:      viewed.Email,
		FollowRequest: acting.Email,
		IsFollowing:   nextIsFollowing,
		Followers:     viewed.Followers,
	}
	result := &ToggleResult{
		IsFollowing: nextIsFollowing,
		Count:       nextCount,
		Message:     message,
	}

	frame, err := EncodeFollowMessage(message)
	if err != nil {
		// the message is plain data, this cannot happen in practice
		panic(fmt.Errorf("encode follow message: %w", err))
	}
	result.Sent = self.sender.Send(frame)

	if !result.Sent {
		glog.V(1).Infof("[f]%s -> %s dropped, local count %d may diverge\n", acting.Email, viewed.Email, nextCount)
		if self.settings.RollbackOnDropped {
			self.store.Dispatch(UpdateFollowerCount{
				Email: viewed.Email,
				Count: priorCount,
			})
			result.IsFollowing = priorIsFollowing
			result.Count = priorCount
		}
	}

	return result, nil
}
