// Package flasherr defines the closed set of failure kinds a flash run can end with.
//
// Every failure surfaced to the user is an *Error carrying one Kind. Kinds
// implement error themselves, so callers match with errors.Is:
//
//	if errors.Is(err, flasherr.WriteFailed) { ... }
package flasherr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind int

const (
	NoPortFound Kind = iota + 1
	AmbiguousPort
	ConnectFailed
	ChipInfoReadFailed
	StubActivationFailed
	FlashSizeDetectFailed
	InvalidImage
	UnsupportedFrequency
	DownloadFailed
	FileOpenFailed
	SetParametersFailed
	WriteFailed
)

var kindNames = map[Kind]string{
	NoPortFound:           "no port found",
	AmbiguousPort:         "ambiguous port",
	ConnectFailed:         "connect failed",
	ChipInfoReadFailed:    "chip info read failed",
	StubActivationFailed:  "stub activation failed",
	FlashSizeDetectFailed: "flash size detection failed",
	InvalidImage:          "invalid image",
	UnsupportedFrequency:  "unsupported flash frequency",
	DownloadFailed:        "download failed",
	FileOpenFailed:        "file open failed",
	SetParametersFailed:   "set flash parameters failed",
	WriteFailed:           "write failed",
}

// String returns a short human-readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a failure of a specific Kind.
type Error struct {
	Kind  Kind
	Msg   string // Msg is the message shown to the user.
	Value any    // Value is the offending path, URL, byte, frequency or port list, if any.
	Err   error  // Err is the underlying cause, if any.
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}

	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)

	return ok && k == e.Kind
}

// New returns an Error of kind k with a formatted message.
func New(k Kind, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// Wrap returns an Error of kind k caused by err.
func Wrap(k Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...), Err: err}
}

// WithValue sets the offending value and returns e.
func (e *Error) WithValue(v any) *Error {
	e.Value = v

	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or 0 if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return 0
}
