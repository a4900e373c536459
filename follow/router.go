package follow

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

const FollowedNotificationFormat = "%s started following you, legend!"
const UnfollowedNotificationFormat = "%s unfollowed you, loser."

// the locally viewed user, nil when no one is logged in
type LocalUserFunction func() *User

// Applies inbound follow messages that target the local user.
//
// The count dispatched is derived from the local user's last server count, not from the
// message: +1 for a follow, unchanged for an unfollow.
// Store updates are applied on the caller (the connection reader). Notifications are raised
// in arrival order on a separate goroutine, so a notifier waiting on the user never stalls
// the reader.
type InboundRouter struct {
	ctx    context.Context
	cancel context.CancelFunc

	store     *FollowerStore
	localUser LocalUserFunction
	notifier  Notifier
	metrics   *Metrics
	log       LogFunction

	notifications *notificationQueue
}

func NewInboundRouter(
	ctx context.Context,
	store *FollowerStore,
	localUser LocalUserFunction,
	notifier Notifier,
	metrics *Metrics,
) *InboundRouter {
	cancelCtx, cancel := context.WithCancel(ctx)
	router := &InboundRouter{
		ctx:       cancelCtx,
		cancel:    cancel,
		store:     store,
		localUser: localUser,
		notifier:  notifier,
		metrics:   metrics,
		log:       LogFn(2, "r"),
	}
	if notifier != nil {
		router.notifications = newNotificationQueue(cancelCtx, notifier)
		go router.notifications.run()
	}
	return router
}

// ReceiveFunction for the connection manager
func (self *InboundRouter) Route(frame []byte) {
	message, err := DecodeFollowMessage(frame)
	if err != nil {
		// best effort channel, the user never sees this
		self.metrics.FramesMalformed.Inc()
		glog.Infof("[r]drop = %s\n", err)
		return
	}
	self.Handle(message)
}

func (self *InboundRouter) Handle(message *FollowMessage) {
	local := self.localUser()
	if local == nil {
		self.log("drop, no local user")
		return
	}

	switch {
	case message.ToFollow == local.Email:
		var count int
		var notification string
		var kind string
		if message.IsFollowing {
			count = local.Followers + 1
			notification = fmt.Sprintf(FollowedNotificationFormat, message.FollowRequest)
			kind = "follow"
		} else {
			count = local.Followers
			notification = fmt.Sprintf(UnfollowedNotificationFormat, message.FollowRequest)
			kind = "unfollow"
		}
		self.log("%s %s %s = %d", message.FollowRequest, kind, message.ToFollow, count)
		self.store.Dispatch(UpdateFollowerCount{
			Email: message.ToFollow,
			Count: count,
		})
		self.metrics.Notifications.WithLabelValues(kind).Inc()
		if self.notifications != nil {
			self.notifications.Add(notification)
		}
	case message.FollowRequest == local.Email:
		// an action taken by the local user, echoed back.
		// reserved for the sent follow request acknowledgment. Intentionally no-op.
	default:
		// not about the local user
	}
}

// stops raising notifications. Pending notifications are discarded
func (self *InboundRouter) Close() {
	self.cancel()
}

// unbounded fifo of user notifications with a single worker
type notificationQueue struct {
	ctx      context.Context
	notifier Notifier

	mutex    sync.Mutex
	messages []string
	update   chan struct{}
}

func newNotificationQueue(ctx context.Context, notifier Notifier) *notificationQueue {
	return &notificationQueue{
		ctx:      ctx,
		notifier: notifier,
		messages: []string{},
		update:   make(chan struct{}, 1),
	}
}

func (self *notificationQueue) Add(message string) {
	select {
	case <-self.ctx.Done():
		return
	default:
	}
	func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		self.messages = append(self.messages, message)
	}()
	select {
	case self.update <- struct{}{}:
	default:
	}
}

func (self *notificationQueue) next() (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if len(self.messages) == 0 {
		return "", false
	}
	message := self.messages[0]
	self.messages = self.messages[1:]
	return message, true
}

func (self *notificationQueue) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		message, ok := self.next()
		if !ok {
			select {
			case <-self.ctx.Done():
				return
			case <-self.update:
			}
			continue
		}
		HandleError(func() {
			self.notifier.Notify(message)
		})
	}
}
