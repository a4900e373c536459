package follow

import (
	"sync"
)

// what a profile view offers, chosen by comparing the session user to the viewed user
type ProfileCapabilities struct {
	ShowFollowButton   bool
	ShowEditSelfButton bool
}

func CapabilitiesFor(sessionUser *User, viewed *User) ProfileCapabilities {
	if sessionUser == nil {
		return ProfileCapabilities{}
	}
	if sessionUser.Email == viewed.Email {
		return ProfileCapabilities{
			ShowEditSelfButton: true,
		}
	}
	return ProfileCapabilities{
		ShowFollowButton: true,
	}
}

// One mounted view of a user profile.
// The follower count is always read from the store, never held by the view.
type ProfileView struct {
	api         *FollowApi
	store       *FollowerStore
	coordinator *FollowCoordinator

	sessionUser  *User
	viewed       *User
	capabilities ProfileCapabilities

	toggleLock sync.Mutex

	stateLock   sync.Mutex
	isFollowing bool
	closed      bool

	unsubscribes []func()
}

func NewProfileView(
	api *FollowApi,
	store *FollowerStore,
	coordinator *FollowCoordinator,
	sessionUser *User,
	viewed *User,
) *ProfileView {
	return &ProfileView{
		api:          api,
		store:        store,
		coordinator:  coordinator,
		sessionUser:  sessionUser,
		viewed:       viewed,
		capabilities: CapabilitiesFor(sessionUser, viewed),
	}
}

func (self *ProfileView) Viewed() *User {
	return self.viewed
}

func (self *ProfileView) Capabilities() ProfileCapabilities {
	return self.capabilities
}

func (self *ProfileView) FollowerCount() int {
	return self.store.FollowerCount(self.viewed.Email, self.viewed.Followers)
}

func (self *ProfileView) IsFollowing() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.isFollowing
}

func (self *ProfileView) IsClosed() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.closed
}

// Loads whether the session user follows the viewed user.
// Closing the view does not cancel the request; a late result is still applied.
func (self *ProfileView) LoadFollowState() (bool, error) {
	args := &FollowersArgs{
		Followee: self.viewed.Email,
	}
	if self.sessionUser != nil {
		follower := self.sessionUser.Email
		args.Follower = &follower
	}
	record, err := self.api.FollowersSync(args)
	if err != nil {
		return false, err
	}
	isFollowing := record != nil

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.isFollowing = isFollowing
	return isFollowing, nil
}

// calls `callback` with the new count on every store update of the viewed user
// until the view is closed
func (self *ProfileView) OnFollowerCount(callback func(count int)) {
	unsubscribe := self.store.Subscribe(func(update UpdateFollowerCount) {
		callback(update.Count)
	}, self.viewed.Email)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		unsubscribe()
		return
	}
	self.unsubscribes = append(self.unsubscribes, unsubscribe)
}

func (self *ProfileView) ToggleFollow() (*ToggleResult, error) {
	if !self.capabilities.ShowFollowButton {
		return nil, ErrFollowNotOffered
	}

	// store subscribers may read the view, so the state lock is not held during the toggle
	self.toggleLock.Lock()
	defer self.toggleLock.Unlock()

	result, err := self.coordinator.ToggleFollow(self.viewed, self.sessionUser, self.IsFollowing())
	if err != nil {
		return nil, err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.isFollowing = result.IsFollowing
	return result, nil
}

func (self *ProfileView) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	for _, unsubscribe := range self.unsubscribes {
		unsubscribe()
	}
	self.unsubscribes = nil
}
