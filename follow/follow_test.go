package follow

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

var errTestTransportClosed = errors.New("test transport closed")

// in memory transport. `inbound` feeds ReadMessage, writes go to `outbound`
type testTransport struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}

	closeOnce   sync.Once
	mutex       sync.Mutex
	closeCode   int
	closeReason string
}

func newTestTransport() *testTransport {
	return &testTransport{
		inbound:  make(chan []byte, 32),
		outbound: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

func (self *testTransport) ReadMessage() ([]byte, error) {
	select {
	case message := <-self.inbound:
		return message, nil
	case <-self.closed:
		return nil, errTestTransportClosed
	}
}

func (self *testTransport) WriteMessage(message []byte) error {
	select {
	case <-self.closed:
		return errTestTransportClosed
	default:
	}
	select {
	case self.outbound <- message:
		return nil
	case <-self.closed:
		return errTestTransportClosed
	}
}

func (self *testTransport) Close(code int, reason string) error {
	self.closeOnce.Do(func() {
		self.mutex.Lock()
		self.closeCode = code
		self.closeReason = reason
		self.mutex.Unlock()
		close(self.closed)
	})
	return nil
}

func (self *testTransport) CloseStatus() (int, string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.closeCode, self.closeReason
}

func (self *testTransport) IsClosed() bool {
	select {
	case <-self.closed:
		return true
	default:
		return false
	}
}

type testHandleFactory struct {
	// when set, Connect blocks until the gate is closed
	gate chan struct{}
	err  error

	mutex      sync.Mutex
	transports []*testTransport
	connects   int
}

func (self *testHandleFactory) Connect(ctx context.Context) (Transport, error) {
	self.mutex.Lock()
	self.connects += 1
	self.mutex.Unlock()

	if self.gate != nil {
		select {
		case <-self.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if self.err != nil {
		return nil, self.err
	}

	transport := newTestTransport()
	self.mutex.Lock()
	self.transports = append(self.transports, transport)
	self.mutex.Unlock()
	return transport, nil
}

func (self *testHandleFactory) Connects() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.connects
}

func (self *testHandleFactory) Transports() []*testTransport {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]*testTransport{}, self.transports...)
}

func watchStates(manager *ConnectionManager) (chan ConnectionState, func()) {
	states := make(chan ConnectionState, 32)
	unsubscribe := manager.AddStateCallback(func(handleId Id, state ConnectionState) {
		states <- state
	})
	return states, unsubscribe
}

func waitState(t *testing.T, states chan ConnectionState, want ConnectionState) {
	t.Helper()
	for {
		select {
		case state := <-states:
			if state == want {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func stringPtr(s string) *string {
	return &s
}

func collectNotifications() (Notifier, chan string) {
	notifications := make(chan string, 32)
	return NotifierFunc(func(message string) {
		notifications <- message
	}), notifications
}

func expectNoNotification(t *testing.T, notifications chan string) {
	t.Helper()
	select {
	case message := <-notifications:
		t.Fatalf("unexpected notification %q", message)
	default:
	}
}

// rest api and realtime relay, keyed by session cookie
type testServer struct {
	server *httptest.Server

	mutex         sync.Mutex
	sessions      map[string]*SessionUserResult
	directory     []*DirectoryUser
	follows       map[[2]string]bool
	conns         map[string][]*websocket.Conn
	failDirectory bool
	postErrors    map[string]string
	// closed to release `/api/followers` responses
	followersGate chan struct{}
}

func newTestServer() *testServer {
	server := &testServer{
		sessions:   map[string]*SessionUserResult{},
		directory:  []*DirectoryUser{},
		follows:    map[[2]string]bool{},
		conns:      map[string][]*websocket.Conn{},
		postErrors: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/user", server.handleUser)
	mux.HandleFunc("/api/users", server.handleUsers)
	mux.HandleFunc("/api/followers", server.handleFollowers)
	mux.HandleFunc("/post-interactions", server.handlePostInteractions)
	mux.HandleFunc("/ws", server.handleWs)
	server.server = httptest.NewServer(mux)
	return server
}

func (self *testServer) Url() string {
	return self.server.URL
}

func (self *testServer) Close() {
	self.mutex.Lock()
	for _, conns := range self.conns {
		for _, conn := range conns {
			conn.Close()
		}
	}
	self.mutex.Unlock()
	self.server.Close()
}

func (self *testServer) AddUser(session string, user *SessionUserResult) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.sessions[session] = user
	self.directory = append(self.directory, &DirectoryUser{
		FirstName: user.First,
		LastName:  user.Last,
		Email:     user.Email,
		AboutMe:   user.About,
		Nickname:  user.User().Nickname,
		Followers: user.Followers,
		Following: user.Following,
	})
}

func (self *testServer) SetFollows(follower string, followee string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.follows[[2]string{follower, followee}] = true
}

func (self *testServer) Follows(follower string, followee string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.follows[[2]string{follower, followee}]
}

func (self *testServer) ConnCount(email string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.conns[email])
}

func (self *testServer) WaitConnCount(t *testing.T, email string, n int) {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for self.ConnCount(email) != n {
		if end.Before(time.Now()) {
			t.Fatalf("timeout waiting for %d connections of %s", n, email)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (self *testServer) sessionUser(r *http.Request) *SessionUserResult {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.sessions[cookie.Value]
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func (self *testServer) handleUser(w http.ResponseWriter, r *http.Request) {
	user := self.sessionUser(r)
	if user == nil {
		writeJson(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}
	writeJson(w, http.StatusOK, user)
}

func (self *testServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.failDirectory {
		http.Error(w, "database is locked", http.StatusInternalServerError)
		return
	}
	writeJson(w, http.StatusOK, self.directory)
}

func (self *testServer) handleFollowers(w http.ResponseWriter, r *http.Request) {
	self.mutex.Lock()
	gate := self.followersGate
	self.mutex.Unlock()
	if gate != nil {
		<-gate
	}

	args := &FollowersArgs{}
	if err := json.NewDecoder(r.Body).Decode(args); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if args.Follower == nil || !self.Follows(*args.Follower, args.Followee) {
		writeJson(w, http.StatusOK, nil)
		return
	}
	writeJson(w, http.StatusOK, &FollowerRecord{
		Follower: *args.Follower,
		Followee: args.Followee,
	})
}

func (self *testServer) handlePostInteractions(w http.ResponseWriter, r *http.Request) {
	args := &PostInteractionArgs{}
	if err := json.NewDecoder(r.Body).Decode(args); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	self.mutex.Lock()
	postError := self.postErrors[args.PostId]
	self.mutex.Unlock()
	writeJson(w, http.StatusOK, &PostInteractionResult{
		Error: postError,
	})
}

var testUpgrader = websocket.Upgrader{}

// relays each follow message to the connections of `toFollow`
func (self *testServer) handleWs(w http.ResponseWriter, r *http.Request) {
	user := self.sessionUser(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	self.mutex.Lock()
	self.conns[user.Email] = append(self.conns[user.Email], conn)
	self.mutex.Unlock()

	defer func() {
		self.mutex.Lock()
		conns := self.conns[user.Email]
		for i, c := range conns {
			if c == conn {
				self.conns[user.Email] = append(conns[:i:i], conns[i+1:]...)
				break
			}
		}
		self.mutex.Unlock()
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		message := &FollowMessage{}
		if err := json.Unmarshal(frame, message); err != nil {
			continue
		}

		self.mutex.Lock()
		key := [2]string{message.FollowRequest, message.ToFollow}
		if message.IsFollowing {
			self.follows[key] = true
		} else {
			delete(self.follows, key)
		}
		for _, c := range self.conns[message.ToFollow] {
			c.WriteMessage(websocket.TextMessage, frame)
		}
		self.mutex.Unlock()
	}
}
