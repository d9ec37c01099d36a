package publish

import (
	"fmt"
	"io"
	"sync"
)

// Reporter receives a success or failure marker for every pipeline stage.
// Begin returns the callback that ends the stage.
type Reporter interface {
	Begin(stage string) (end func(err error))
}

type nopReporter struct{}

func (nopReporter) Begin(string) func(error) { return func(error) {} }

// TextReporter writes one line per finished stage.
type TextReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Begin(stage string) func(error) {
	return func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			fmt.Fprintf(r.w, "✗ %s: %v\n", stage, err)
			return
		}
		fmt.Fprintf(r.w, "✓ %s\n", stage)
	}
}
