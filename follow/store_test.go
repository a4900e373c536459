package follow

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStoreLastWriterWins(t *testing.T) {
	store := NewFollowerStore()

	_, ok := store.Get("b@x.com")
	assert.Equal(t, ok, false)
	assert.Equal(t, store.FollowerCount("b@x.com", 5), 5)

	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 6})
	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 2})

	count, ok := store.Get("b@x.com")
	assert.Equal(t, ok, true)
	assert.Equal(t, count, 2)
	// the store wins over the server value once it has an entry
	assert.Equal(t, store.FollowerCount("b@x.com", 5), 2)
	assert.Equal(t, store.Snapshot(), map[string]int{"b@x.com": 2})
}

func TestStoreNoClamp(t *testing.T) {
	store := NewFollowerStore()
	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: -1})
	count, _ := store.Get("b@x.com")
	assert.Equal(t, count, -1)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	store := NewFollowerStore()
	store.Dispatch(UpdateFollowerCount{Email: "a@x.com", Count: 1})

	snapshot := store.Snapshot()
	snapshot["a@x.com"] = 100
	snapshot["c@x.com"] = 3

	count, _ := store.Get("a@x.com")
	assert.Equal(t, count, 1)
	_, ok := store.Get("c@x.com")
	assert.Equal(t, ok, false)
}

func TestStoreSubscribeOrder(t *testing.T) {
	store := NewFollowerStore()

	all := []UpdateFollowerCount{}
	unsubscribeAll := store.Subscribe(func(update UpdateFollowerCount) {
		all = append(all, update)
	})
	onlyB := []int{}
	unsubscribeB := store.Subscribe(func(update UpdateFollowerCount) {
		onlyB = append(onlyB, update.Count)
	}, "b@x.com")

	// rapid updates to the same key are not coalesced
	for i := 0; i < 10; i += 1 {
		store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: i})
	}
	store.Dispatch(UpdateFollowerCount{Email: "c@x.com", Count: 7})

	assert.Equal(t, len(all), 11)
	assert.Equal(t, onlyB, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.Equal(t, all[10], UpdateFollowerCount{Email: "c@x.com", Count: 7})

	unsubscribeB()
	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 100})
	assert.Equal(t, len(onlyB), 10)
	assert.Equal(t, len(all), 12)

	unsubscribeAll()
	// unsubscribe twice is ok
	unsubscribeAll()
	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 101})
	assert.Equal(t, len(all), 12)
}

func TestStoreSubscriberPanic(t *testing.T) {
	store := NewFollowerStore()

	store.Subscribe(func(update UpdateFollowerCount) {
		panic("bad view")
	})
	counts := []int{}
	store.Subscribe(func(update UpdateFollowerCount) {
		counts = append(counts, update.Count)
	})

	store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 1})
	assert.Equal(t, counts, []int{1})
}

func TestStoreIsolatedInstances(t *testing.T) {
	a := NewFollowerStore()
	b := NewFollowerStore()
	a.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: 1})
	_, ok := b.Get("b@x.com")
	assert.Equal(t, ok, false)
}

func TestStoreConcurrentDispatch(t *testing.T) {
	metrics := NewNoopMetrics()
	store := NewFollowerStoreWithMetrics(metrics)

	var mutex sync.Mutex
	n := 0
	store.Subscribe(func(update UpdateFollowerCount) {
		mutex.Lock()
		defer mutex.Unlock()
		n += 1
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j += 1 {
				store.Dispatch(UpdateFollowerCount{Email: "b@x.com", Count: j})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, 1600)
	assert.Equal(t, testutil.ToFloat64(metrics.StoreDispatches), float64(1600))
	count, _ := store.Get("b@x.com")
	assert.Equal(t, count, 99)
}
