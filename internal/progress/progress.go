// Package progress reports pipeline progress to an observer that can
// never influence the pipeline's result.
package progress

import (
	"fmt"
	"io"
	"sync"
)

// Reporter receives pipeline progress events. Implementations must
// tolerate concurrent Advance calls.
type Reporter interface {
	// Start announces the total number of work units ahead.
	Start(total int)
	// Advance records n completed units.
	Advance(n int)
	// Stage names the phase the pipeline just entered.
	Stage(name string)
	// Done marks the run finished.
	Done()
}

// Nop returns a reporter that discards everything.
func Nop() Reporter { return nop{} }

type nop struct{}

func (nop) Start(int)    {}
func (nop) Advance(int)  {}
func (nop) Stage(string) {}
func (nop) Done()        {}

// Terminal renders a one-line textual progress display. With transient
// set, the line is rewritten in place and cleared on completion;
// otherwise each update appends a new line.
type Terminal struct {
	mu        sync.Mutex
	w         io.Writer
	transient bool

	total int
	done  int
	stage string
}

// NewTerminal builds a terminal reporter writing to w.
func NewTerminal(w io.Writer, transient bool) *Terminal {
	return &Terminal{w: w, transient: transient}
}

func (t *Terminal) Start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.done = 0
	t.render()
}

func (t *Terminal) Advance(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done += n
	if t.done > t.total {
		t.done = t.total
	}
	t.render()
}

func (t *Terminal) Stage(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = name
	t.render()
}

func (t *Terminal) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.transient {
		fmt.Fprint(t.w, "\r\033[2K")
		return
	}
	fmt.Fprintln(t.w, "done")
}

func (t *Terminal) render() {
	pct := 0
	if t.total > 0 {
		pct = 100 * t.done / t.total
	}
	if t.transient {
		fmt.Fprintf(t.w, "\r\033[2K%s %d/%d (%d%%)", t.stage, t.done, t.total, pct)
		return
	}
	fmt.Fprintf(t.w, "%s %d/%d (%d%%)\n", t.stage, t.done, t.total, pct)
}
