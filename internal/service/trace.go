package service

import "fmt"

// Trace is the ordered decision log assembled while building a bundle. It
// is returned to the caller verbatim, so notes should be short and concrete.
type Trace struct {
	notes []string
}

// Addf appends a formatted note.
func (t *Trace) Addf(format string, args ...interface{}) {
	t.notes = append(t.notes, fmt.Sprintf(format, args...))
}

// Notes returns the accumulated notes in order.
func (t *Trace) Notes() []string {
	return t.notes
}
