package follow

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// the single action that mutates the store
type UpdateFollowerCount struct {
	Email string
	Count int
}

type FollowerStoreFunction func(update UpdateFollowerCount)

type followerSubscription struct {
	// empty means all emails
	emails   map[string]bool
	callback FollowerStoreFunction
}

func (self *followerSubscription) matches(email string) bool {
	return len(self.emails) == 0 || self.emails[email]
}

// keyed follower counts shared by every view of a session.
// counts are replaced, never merged, and are not clamped. The coordinating peer is the authority.
// Entries are created on first update and live as long as the store.
type FollowerStore struct {
	metrics *Metrics

	// serializes dispatch so that subscribers see updates in dispatch order
	dispatchLock sync.Mutex

	stateLock sync.Mutex
	counts    map[string]int

	subscriptions *callbackList[*followerSubscription]
}

func NewFollowerStore() *FollowerStore {
	return NewFollowerStoreWithMetrics(NewNoopMetrics())
}

func NewFollowerStoreWithMetrics(metrics *Metrics) *FollowerStore {
	return &FollowerStore{
		metrics:       metrics,
		counts:        map[string]int{},
		subscriptions: newCallbackList[*followerSubscription](),
	}
}

// Subscribers are called synchronously on the dispatching goroutine
// and must not dispatch from inside the callback.
func (self *FollowerStore) Dispatch(update UpdateFollowerCount) {
	self.dispatchLock.Lock()
	defer self.dispatchLock.Unlock()

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.counts[update.Email] = update.Count
	}()
	self.metrics.StoreDispatches.Inc()
	glog.V(2).Infof("[s]%s = %d\n", update.Email, update.Count)

	for _, subscription := range self.subscriptions.Get() {
		if subscription.matches(update.Email) {
			HandleError(func() {
				subscription.callback(update)
			})
		}
	}
}

func (self *FollowerStore) Get(email string) (int, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	count, ok := self.counts[email]
	return count, ok
}

// the stored count, or `fallback` (the last server value) when no update has happened yet
func (self *FollowerStore) FollowerCount(email string, fallback int) int {
	if count, ok := self.Get(email); ok {
		return count
	}
	return fallback
}

func (self *FollowerStore) Snapshot() map[string]int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Clone(self.counts)
}

// subscribes to updates for `emails`, or to all updates when no email is given.
// returns the unsubscribe function
func (self *FollowerStore) Subscribe(callback FollowerStoreFunction, emails ...string) func() {
	subscription := &followerSubscription{
		emails:   map[string]bool{},
		callback: callback,
	}
	for _, email := range emails {
		subscription.emails[email] = true
	}
	id := self.subscriptions.Add(subscription)
	return func() {
		self.subscriptions.Remove(id)
	}
}
