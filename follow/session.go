package follow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type SessionState int

const (
	SessionInvalid SessionState = iota
	SessionValid
)

func (self SessionState) String() string {
	switch self {
	case SessionValid:
		return "valid"
	default:
		return "invalid"
	}
}

type DirectoryState int

const (
	DirectoryAvailable DirectoryState = iota
	// the directory could not be fetched. Distinct from an empty directory
	DirectoryUnavailable
)

type DirectoryResult struct {
	State DirectoryState
	Users []*User
	Error error
}

// the public profile with slug `first-last`, or nil
func (self *DirectoryResult) FindUser(slug string) *User {
	var found *User
	for _, user := range self.Users {
		if user.Slug() == slug {
			if found != nil {
				// ambiguous
				return nil
			}
			found = user
		}
	}
	return found
}

type SessionSettings struct {
	ConnectionSettings  *ConnectionSettings
	CoordinatorSettings *FollowCoordinatorSettings
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		ConnectionSettings:  DefaultConnectionSettings(),
		CoordinatorSettings: DefaultFollowCoordinatorSettings(),
	}
}

// One authenticated session. Owns the follower store, the connection manager,
// the inbound router and the follow coordinator, and passes them to the views it opens.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	api           *FollowApi
	handleFactory HandleFactory
	settings      *SessionSettings
	metrics       *Metrics

	store       *FollowerStore
	connection  *ConnectionManager
	router      *InboundRouter
	coordinator *FollowCoordinator

	stateLock sync.Mutex
	state     SessionState
	user      *User
}

func NewSessionWithDefaults(ctx context.Context, api *FollowApi, notifier Notifier) (*Session, error) {
	settings := DefaultSessionSettings()
	wsUrl, err := api.WsUrl()
	if err != nil {
		return nil, err
	}
	handleFactory := NewWsHandleFactory(wsUrl, api.Auth(), settings.ConnectionSettings)
	return NewSession(ctx, api, handleFactory, notifier, settings, NewNoopMetrics()), nil
}

func NewSession(
	ctx context.Context,
	api *FollowApi,
	handleFactory HandleFactory,
	notifier Notifier,
	settings *SessionSettings,
	metrics *Metrics,
) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	session := &Session{
		ctx:           cancelCtx,
		cancel:        cancel,
		api:           api,
		handleFactory: handleFactory,
		settings:      settings,
		metrics:       metrics,
		state:         SessionInvalid,
	}

	session.store = NewFollowerStoreWithMetrics(metrics)
	session.router = NewInboundRouter(cancelCtx, session.store, session.User, notifier, metrics)
	session.connection = NewConnectionManager(cancelCtx, session.router.Route, settings.ConnectionSettings, metrics)
	session.coordinator = NewFollowCoordinator(session.store, session.connection, session.User, settings.CoordinatorSettings)

	return session
}

func (self *Session) Store() *FollowerStore {
	return self.store
}

func (self *Session) Connection() *ConnectionManager {
	return self.connection
}

func (self *Session) Coordinator() *FollowCoordinator {
	return self.coordinator
}

func (self *Session) State() SessionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// the session user, nil when the session is invalid
func (self *Session) User() *User {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.user
}

// Validates the session with the current user fetch and, if valid, opens the realtime
// connection. Calling again refreshes the user; the connection is never duplicated.
func (self *Session) Start() (*User, error) {
	select {
	case <-self.ctx.Done():
		return nil, ErrSessionClosed
	default:
	}

	tag := self.api.Auth().Tag()

	var result *SessionUserResult
	var err error
	if glog.V(2) {
		result, err = TraceWithReturnError(fmt.Sprintf("[session]%s user", tag), self.api.GetUserSync)
	} else {
		result, err = self.api.GetUserSync()
	}
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		glog.Infof("[session]%s invalid = %s\n", tag, err)
		self.setInvalid()
		if errors.Is(err, ErrSessionInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionInvalid, err)
	}

	user := result.User()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.user = user
		self.state = SessionValid
	}()
	glog.V(1).Infof("[session]%s valid as %s\n", tag, user.Email)

	self.connection.Open(self.handleFactory)
	return user, nil
}

func (self *Session) setInvalid() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.user = nil
	self.state = SessionInvalid
}

// closes the connection with a normal closure. The session can be started again.
func (self *Session) Logout() {
	self.connection.Close()
	self.setInvalid()
	glog.V(1).Infof("[session]logout\n")
}

// unload. The session cannot be started again
func (self *Session) Close() {
	self.connection.Cancel()
	self.router.Close()
	self.setInvalid()
	self.cancel()
}

// opens a profile view of `viewed` bound to this session's store and coordinator
func (self *Session) OpenProfile(viewed *User) *ProfileView {
	return NewProfileView(self.api, self.store, self.coordinator, self.User(), viewed)
}

func (self *Session) Directory() *DirectoryResult {
	directoryUsers, err := self.api.UsersSync()
	if err != nil {
		glog.Infof("[session]directory unavailable = %s\n", err)
		return &DirectoryResult{
			State: DirectoryUnavailable,
			Users: []*User{},
			Error: err,
		}
	}
	users := make([]*User, 0, len(directoryUsers))
	for _, directoryUser := range directoryUsers {
		if directoryUser != nil {
			users = append(users, directoryUser.User())
		}
	}
	return &DirectoryResult{
		State: DirectoryAvailable,
		Users: users,
	}
}

func (self *Session) DeletePost(postId string) error {
	result, err := self.api.DeletePostSync(postId)
	if err != nil {
		return err
	}
	return result.Err()
}
