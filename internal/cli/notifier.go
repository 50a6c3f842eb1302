package cli

import (
	"fmt"
	"io"
	"sync"

	"ragchat/internal/session"
)

// consoleNotifier renders session notifications on a writer. Streamed
// text is printed literally as it grows; the formatted block appears
// once on finalize.
type consoleNotifier struct {
	out io.Writer

	mu      sync.Mutex
	printed int
	done    chan struct{}
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out}
}

// waitCh returns a channel closed when the current generation ends.
func (n *consoleNotifier) waitCh() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done == nil {
		n.done = make(chan struct{})
	}
	return n.done
}

func (n *consoleNotifier) GenerationStateChanged(generating bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if generating {
		if n.done == nil {
			n.done = make(chan struct{})
		}
		n.printed = 0
		return
	}
	if n.done != nil {
		close(n.done)
		n.done = nil
	}
}

func (n *consoleNotifier) ConnectionStateChanged(status session.ConnStatus, detail string) {
	if status == session.ConnDisconnected && detail != "" {
		fmt.Fprintf(n.out, "\n[%s: %s]\n", status, detail)
	}
}

func (n *consoleNotifier) AnswerUpdated(buffered string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(buffered) < n.printed {
		// New answer started; begin again on a fresh line.
		fmt.Fprintln(n.out)
		n.printed = 0
	}
	fmt.Fprint(n.out, buffered[n.printed:])
	n.printed = len(buffered)
}

func (n *consoleNotifier) AnswerFinalized(raw, rendered string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if raw == "" {
		return
	}
	fmt.Fprintf(n.out, "\n\n--- formatted ---\n%s\n", rendered)
	n.printed = 0
}

func (n *consoleNotifier) GenerationFailed(message string) {
	fmt.Fprintf(n.out, "\n[generation error: %s]\n", message)
}
