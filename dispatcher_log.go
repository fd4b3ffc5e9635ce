package admission

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogDispatcher prints emails instead of delivering them. It is meant for
// local development.
type LogDispatcher struct {
	mu  sync.Mutex
	out io.Writer
}

var _ Dispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher writes to out, or stdout when out is nil.
func NewLogDispatcher(out io.Writer) *LogDispatcher {
	if out == nil {
		out = os.Stdout
	}
	return &LogDispatcher{out: out}
}

// Send implements Dispatcher.
func (d *LogDispatcher) Send(_ context.Context, to, subject, _, text string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintln(d.out, "====== SENDING EMAIL NOTIFICATION =======")
	fmt.Fprintf(d.out, "to: %s\n", to)
	fmt.Fprintf(d.out, "subject: %s\n", subject)
	fmt.Fprintln(d.out, text)
	fmt.Fprintln(d.out, "=========================================")
	return true, nil
}
