package orchestrator

import (
	"fmt"
	"io"
)

// Sink receives the user-visible status output of a run.
type Sink interface {
	Print(a ...any)
	Printf(format string, a ...any)
	Println(a ...any)
}

// WriterSink prints to an io.Writer. Write errors are ignored.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Print(a ...any) {
	fmt.Fprint(s.W, a...)
}

func (s WriterSink) Printf(format string, a ...any) {
	fmt.Fprintf(s.W, format, a...)
}

func (s WriterSink) Println(a ...any) {
	fmt.Fprintln(s.W, a...)
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}

	return "NO"
}
