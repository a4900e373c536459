package follow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// close code and reason for a client initiated close (logout or unload)
const NormalClosureCode = websocket.CloseNormalClosure
const NormalClosureReason = "user refreshed or logged out."

type ConnectionState int

const (
	ConnectionClosed ConnectionState = iota
	ConnectionOpening
	ConnectionOpen
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionClosed:
		return "closed"
	case ConnectionOpening:
		return "opening"
	case ConnectionOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// a connected message transport. Messages are whole text frames.
type Transport interface {
	// blocks until the next frame or an error
	ReadMessage() ([]byte, error)
	WriteMessage(message []byte) error
	Close(code int, reason string) error
}

type HandleFactory interface {
	Connect(ctx context.Context) (Transport, error)
}

type HandleFactoryFunc func(ctx context.Context) (Transport, error)

func (self HandleFactoryFunc) Connect(ctx context.Context) (Transport, error) {
	return self(ctx)
}

type ReceiveFunction func(frame []byte)

type ConnectionStateFunction func(handleId Id, state ConnectionState)

type ConnectionSettings struct {
	ConnectTimeout     time.Duration
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	// 0 disables keepalive pings
	PingTimeout time.Duration
	// read deadline, armed at each read and extended by every pong. 0 disables
	ReadTimeout time.Duration
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		ConnectTimeout:     10 * time.Second,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       5 * time.Second,
		PingTimeout:        15 * time.Second,
		ReadTimeout:        60 * time.Second,
	}
}

// one realtime connection. `Closed` is terminal, a handle is never reopened.
type connectionHandle struct {
	ctx    context.Context
	cancel context.CancelFunc

	handleId Id

	stateLock sync.Mutex
	state     ConnectionState
	transport Transport
}

func newConnectionHandle(ctx context.Context) *connectionHandle {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &connectionHandle{
		ctx:      cancelCtx,
		cancel:   cancel,
		handleId: NewId(),
		state:    ConnectionOpening,
	}
}

func (self *connectionHandle) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// false if the handle was closed while opening
func (self *connectionHandle) setOpen(transport Transport) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state != ConnectionOpening {
		return false
	}
	self.state = ConnectionOpen
	self.transport = transport
	return true
}

// returns the transport to close, and whether this call made the transition
func (self *connectionHandle) setClosed() (Transport, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state == ConnectionClosed {
		return nil, false
	}
	self.state = ConnectionClosed
	transport := self.transport
	self.transport = nil
	return transport, true
}

func (self *connectionHandle) openTransport() Transport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state != ConnectionOpen {
		return nil
	}
	return self.transport
}

// Owns the single realtime connection of a session.
// `Open` is a no-op while a handle is opening or open, so there is at most one live
// connection. `Close` is idempotent. `Send` drops when not open; nothing is queued
// and nothing is retried. Reconnect is left to the owner (a new login opens a new handle).
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	receive  ReceiveFunction
	settings *ConnectionSettings
	metrics  *Metrics
	log      LogFunction

	stateLock sync.Mutex
	handle    *connectionHandle

	stateCallbacks *callbackList[ConnectionStateFunction]
}

func NewConnectionManagerWithDefaults(ctx context.Context, receive ReceiveFunction) *ConnectionManager {
	return NewConnectionManager(ctx, receive, DefaultConnectionSettings(), NewNoopMetrics())
}

func NewConnectionManager(
	ctx context.Context,
	receive ReceiveFunction,
	settings *ConnectionSettings,
	metrics *Metrics,
) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		ctx:            cancelCtx,
		cancel:         cancel,
		receive:        receive,
		settings:       settings,
		metrics:        metrics,
		log:            LogFn(1, "c"),
		stateCallbacks: newCallbackList[ConnectionStateFunction](),
	}
}

func (self *ConnectionManager) AddStateCallback(callback ConnectionStateFunction) func() {
	id := self.stateCallbacks.Add(callback)
	return func() {
		self.stateCallbacks.Remove(id)
	}
}

func (self *ConnectionManager) stateChanged(handleId Id, state ConnectionState) {
	self.log("%s %s", handleId, state)
	for _, callback := range self.stateCallbacks.Get() {
		HandleError(func() {
			callback(handleId, state)
		})
	}
}

// the current handle state. `Closed` when there is no handle
func (self *ConnectionManager) State() ConnectionState {
	self.stateLock.Lock()
	handle := self.handle
	self.stateLock.Unlock()
	if handle == nil {
		return ConnectionClosed
	}
	return handle.State()
}

// the id of the current handle, if any
func (self *ConnectionManager) HandleId() (Id, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.handle == nil {
		return Id{}, false
	}
	return self.handle.handleId, true
}

// opens a new handle unless one is opening or open.
// returns the live handle id and whether it was created by this call
func (self *ConnectionManager) Open(factory HandleFactory) (Id, bool) {
	self.stateLock.Lock()
	if self.handle != nil && self.handle.State() != ConnectionClosed {
		handleId := self.handle.handleId
		self.stateLock.Unlock()
		return handleId, false
	}
	select {
	case <-self.ctx.Done():
		self.stateLock.Unlock()
		return Id{}, false
	default:
	}
	handle := newConnectionHandle(self.ctx)
	self.handle = handle
	self.stateLock.Unlock()

	self.metrics.HandlesOpened.Inc()
	self.stateChanged(handle.handleId, ConnectionOpening)
	go self.run(handle, factory)
	return handle.handleId, true
}

func (self *ConnectionManager) run(handle *connectionHandle, factory HandleFactory) {
	defer self.closeHandle(handle)
	log := SubLogFn(self.log, handle.handleId.String())

	connect := func() (Transport, error) {
		connectCtx, connectCancel := context.WithTimeout(handle.ctx, self.settings.ConnectTimeout)
		defer connectCancel()
		return factory.Connect(connectCtx)
	}

	var transport Transport
	var err error
	if glog.V(2) {
		transport, err = TraceWithReturnError(fmt.Sprintf("[c]connect %s", handle.handleId), connect)
	} else {
		transport, err = connect()
	}
	if err != nil {
		glog.Infof("[c]%s connect error = %s\n", handle.handleId, err)
		return
	}

	if !handle.setOpen(transport) {
		// closed while opening
		transport.Close(NormalClosureCode, NormalClosureReason)
		return
	}
	self.stateChanged(handle.handleId, ConnectionOpen)
	log("read start")
	defer log("read end")

	// frames are handled one at a time in arrival order
	for {
		frame, err := transport.ReadMessage()
		if err != nil {
			if handle.State() == ConnectionOpen {
				glog.Infof("[c]%s<- error = %s\n", handle.handleId, err)
			}
			return
		}
		self.metrics.FramesReceived.Inc()
		glog.V(2).Infof("[c]%s<- %d bytes\n", handle.handleId, len(frame))
		HandleError(func() {
			self.receive(frame)
		})
	}
}

func (self *ConnectionManager) closeHandle(handle *connectionHandle) {
	transport, changed := handle.setClosed()
	if !changed {
		return
	}
	handle.cancel()
	if transport != nil {
		if err := transport.Close(NormalClosureCode, NormalClosureReason); err != nil {
			glog.V(1).Infof("[c]%s close error = %s\n", handle.handleId, err)
		}
	}
	self.stateChanged(handle.handleId, ConnectionClosed)
}

// closes the current handle. Safe to call any number of times
func (self *ConnectionManager) Close() {
	self.stateLock.Lock()
	handle := self.handle
	self.stateLock.Unlock()

	if handle != nil {
		self.closeHandle(handle)
	}
}

// closes the current handle and refuses further opens
func (self *ConnectionManager) Cancel() {
	self.cancel()
	self.Close()
}

// best effort. Returns false when the message was dropped
func (self *ConnectionManager) Send(message []byte) bool {
	self.stateLock.Lock()
	handle := self.handle
	self.stateLock.Unlock()

	if handle == nil {
		self.metrics.FramesDropped.Inc()
		glog.V(2).Infof("[c]drop, no handle\n")
		return false
	}
	transport := handle.openTransport()
	if transport == nil {
		self.metrics.FramesDropped.Inc()
		glog.V(2).Infof("[c]%s drop, %s\n", handle.handleId, handle.State())
		return false
	}
	if err := transport.WriteMessage(message); err != nil {
		// a websocket write error cannot be recovered
		glog.Infof("[c]%s-> error = %s\n", handle.handleId, err)
		self.metrics.FramesDropped.Inc()
		self.closeHandle(handle)
		return false
	}
	self.metrics.FramesSent.Inc()
	glog.V(2).Infof("[c]%s-> %d bytes\n", handle.handleId, len(message))
	return true
}

// dials `wsUrl` with gorilla websocket
type WsHandleFactory struct {
	wsUrl    string
	header   http.Header
	settings *ConnectionSettings
}

func NewWsHandleFactory(wsUrl string, auth *SessionAuth, settings *ConnectionSettings) *WsHandleFactory {
	return &WsHandleFactory{
		wsUrl:    wsUrl,
		header:   auth.Header(),
		settings: settings,
	}
}

func (self *WsHandleFactory) Connect(ctx context.Context) (Transport, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, self.wsUrl, self.header)
	if err != nil {
		return nil, err
	}
	return newWsTransport(ws, self.settings), nil
}

type wsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws       *websocket.Conn
	settings *ConnectionSettings

	// gorilla allows one concurrent writer
	writeLock sync.Mutex
}

func newWsTransport(ws *websocket.Conn, settings *ConnectionSettings) *wsTransport {
	cancelCtx, cancel := context.WithCancel(context.Background())
	transport := &wsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		settings: settings,
	}
	if 0 < settings.ReadTimeout {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		})
	}
	if 0 < settings.PingTimeout {
		go transport.ping()
	}
	return transport
}

func (self *wsTransport) ping() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PingTimeout):
		}
		deadline := time.Now().Add(self.settings.WriteTimeout)
		if err := self.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			// the reader sees the same failure and closes the handle
			return
		}
	}
}

func (self *wsTransport) ReadMessage() ([]byte, error) {
	for {
		// the deadline covers waiting for the peer only, not the time the caller spends
		// between reads
		if 0 < self.settings.ReadTimeout {
			self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		}
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage:
			return message, nil
		default:
			glog.V(2).Infof("[c]other=%d\n", messageType)
		}
	}
}

func (self *wsTransport) WriteMessage(message []byte) error {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, message)
}

func (self *wsTransport) Close(code int, reason string) error {
	self.cancel()
	deadline := time.Now().Add(self.settings.WriteTimeout)
	closeErr := self.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err := self.ws.Close(); err != nil {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
		return closeErr
	}
	return nil
}
