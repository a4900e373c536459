package follow

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `follow` package:
// Info:
//     abnormal events only. Silent on normal operation except for one time
//     session events that are useful for monitoring. This includes:
//     - transport errors and peer closes
//     - malformed frames
//     - invalid sessions
// V(1):
//     connection and session lifecycle (open, close, login, logout)
// V(2):
//     per message trace (send, receive, dispatch)
//     these are frequent and should never be logged at Info

type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
