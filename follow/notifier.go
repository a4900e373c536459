package follow

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// raises a user visible notification. Notify may block until the user acknowledges it.
type Notifier interface {
	Notify(message string)
}

type NotifierFunc func(message string)

func (self NotifierFunc) Notify(message string) {
	self(message)
}

// prints notifications to `out`. When `in` is a terminal, each notification
// blocks until the user presses enter, like a modal alert.
type TerminalNotifier struct {
	out         io.Writer
	in          *bufio.Reader
	interactive bool

	mutex sync.Mutex
}

func NewTerminalNotifier() *TerminalNotifier {
	return NewTerminalNotifierWithFiles(os.Stdin, os.Stdout)
}

func NewTerminalNotifierWithFiles(in *os.File, out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{
		out:         out,
		in:          bufio.NewReader(in),
		interactive: term.IsTerminal(int(in.Fd())),
	}
}

func (self *TerminalNotifier) Interactive() bool {
	return self.interactive
}

func (self *TerminalNotifier) Notify(message string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	fmt.Fprintf(self.out, "%s\n", message)
	if self.interactive {
		fmt.Fprintf(self.out, "(press enter) ")
		self.in.ReadString('\n')
	}
}
