package follow

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestIdOrder(t *testing.T) {
	ids := []Id{}
	for i := 0; i < 64; i += 1 {
		ids = append(ids, NewId())
	}
	for i := 1; i < len(ids); i += 1 {
		assert.NotEqual(t, ids[i-1], ids[i])
		// the string encoding sorts by create time
		assert.Equal(t, ids[i].String() < ids[i-1].String(), false)
		assert.Equal(t, len(ids[i].String()), 26)
	}
}

func TestCallbackList(t *testing.T) {
	callbacks := newCallbackList[func() int]()

	id1 := callbacks.Add(func() int { return 1 })
	id2 := callbacks.Add(func() int { return 2 })
	callbacks.Add(func() int { return 3 })

	values := func() []int {
		out := []int{}
		for _, callback := range callbacks.Get() {
			out = append(out, callback())
		}
		return out
	}
	assert.Equal(t, values(), []int{1, 2, 3})

	// a snapshot is not affected by later changes
	snapshot := callbacks.Get()
	callbacks.Remove(id2)
	assert.Equal(t, len(snapshot), 3)
	assert.Equal(t, values(), []int{1, 3})

	callbacks.Remove(id2)
	callbacks.Remove(id1)
	assert.Equal(t, values(), []int{3})
}

func TestSubLogFn(t *testing.T) {
	lines := []string{}
	log := SubLogFn(func(format string, a ...any) {
		lines = append(lines, fmt.Sprintf(format, a...))
	}, "h1")
	log("read start")
	log("n = %d", 2)
	assert.Equal(t, lines, []string{"h1: read start", "h1: n = 2"})
}

func TestTraceWithReturnError(t *testing.T) {
	result, err := TraceWithReturnError("[t]ok", func() (int, error) {
		return 3, nil
	})
	assert.Equal(t, result, 3)
	assert.Equal(t, err, nil)

	cause := errors.New("cause")
	_, err = TraceWithReturnError("[t]fail", func() (*User, error) {
		return nil, cause
	})
	assert.Equal(t, err, cause)
}

func TestHandleError(t *testing.T) {
	r := HandleError(func() {})
	assert.Equal(t, r, nil)

	var handled error
	r = HandleError(func() {
		panic("bad")
	}, func(err error) {
		handled = err
	})
	assert.Equal(t, r, "bad")
	assert.Equal(t, handled.Error(), "bad")

	cause := errors.New("cause")
	called := false
	r = HandleError(func() {
		panic(cause)
	}, func() {
		called = true
	}, func(err error) {
		handled = err
	})
	assert.Equal(t, called, true)
	assert.Equal(t, errors.Is(handled, cause), true)

	assert.Equal(t, IsDoneError(errors.New("Done")), true)
	assert.Equal(t, IsDoneError("Done"), true)
	assert.Equal(t, IsDoneError(cause), false)
}

func TestEvent(t *testing.T) {
	event := NewEvent()
	assert.Equal(t, event.IsSet(), false)
	event.Set()
	event.Set()
	assert.Equal(t, event.IsSet(), true)
	select {
	case <-event.Ctx().Done():
	default:
		t.Fatal("event context not done")
	}

	event = NewEvent()
	stop := event.SetOnSignals(os.Interrupt)
	stop()
	assert.Equal(t, event.IsSet(), false)
}
