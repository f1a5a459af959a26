package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressReporter reports per-item progress of a batch command.
type ProgressReporter interface {
	Start(total int)
	Step(item string)
	Fail(item string, err error)
	Finish()
}

// StepProgress prints one line per processed item, prefixed with its
// position in the batch, and a closing summary.
type StepProgress struct {
	mu      sync.Mutex
	w       io.Writer
	verb    string
	total   int
	done    int
	failed  int
	started time.Time
}

// NewProgressReporter returns a reporter writing to w. verb names what
// happened to each item ("imported", "validated"). A nil w writes to
// os.Stderr.
func NewProgressReporter(w io.Writer, verb string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if verb == "" {
		verb = "processed"
	}
	return &StepProgress{w: w, verb: verb}
}

// Start resets the counters for a batch of total items.
func (p *StepProgress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total, p.done, p.failed = total, 0, 0
	p.started = time.Now()
}

// Step records a successfully processed item.
func (p *StepProgress) Step(item string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	fmt.Fprintf(p.w, "%s %s %s\n", p.position(), p.verb, item)
}

// Fail records an item that could not be processed.
func (p *StepProgress) Fail(item string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.failed++
	fmt.Fprintf(p.w, "%s ✗ %s: %v\n", p.position(), item, err)
}

// Finish prints the batch summary.
func (p *StepProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%d/%d %s, %d failed in %s\n",
		p.done-p.failed, p.total, p.verb, p.failed,
		time.Since(p.started).Round(time.Millisecond))
}

func (p *StepProgress) position() string {
	width := len(fmt.Sprint(p.total))
	return fmt.Sprintf("[%*d/%d]", width, p.done, p.total)
}
