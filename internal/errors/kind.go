package errors

import (
	"fmt"
	"strings"
)

// Kind classifies failures of a backup or restore run. All kinds are fatal to
// the run that produced them.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAccess: the source tree cannot be read or enumerated.
	KindAccess
	// KindIO: reading or writing a part or destination file failed.
	KindIO
	// KindCorruptFormat: malformed header or record, inconsistent lengths.
	KindCorruptFormat
	// KindMissingPart: the next part of the sequence is absent.
	KindMissingPart
	// KindPathEscape: a decoded path would leave the destination root.
	KindPathEscape
	// KindConflict: the destination already holds a conflicting object.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access error"
	case KindIO:
		return "i/o error"
	case KindCorruptFormat:
		return "corrupt format"
	case KindMissingPart:
		return "missing part"
	case KindPathEscape:
		return "path escape"
	case KindConflict:
		return "conflict"
	default:
		return "error"
	}
}

// Error is the structured error returned by the core packages.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "open part"
	Path string // file or entry path the error is about, may be empty
	Err  error
}

// Sentinels for use with Is. They match any *Error of the same kind.
var (
	ErrAccess        = &Error{Kind: KindAccess}
	ErrIO            = &Error{Kind: KindIO}
	ErrCorruptFormat = &Error{Kind: KindCorruptFormat}
	ErrMissingPart   = &Error{Kind: KindMissingPart}
	ErrPathEscape    = &Error{Kind: KindPathEscape}
	ErrConflict      = &Error{Kind: KindConflict}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// E builds a structured error. A nil err yields a bare error of that kind.
func E(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Ensure returns err unchanged if it already carries a kind, and classifies it
// as kind otherwise. Ensure(nil) is nil.
func Ensure(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return E(kind, op, path, err)
}

func Access(op, path string, err error) error {
	return E(KindAccess, op, path, err)
}

func IO(op, path string, err error) error {
	return E(KindIO, op, path, err)
}

func Corrupt(op, path string, err error) error {
	return E(KindCorruptFormat, op, path, err)
}

func Corruptf(op, path, format string, args ...interface{}) error {
	return E(KindCorruptFormat, op, path, Errorf(format, args...))
}

func MissingPart(path string, err error) error {
	return E(KindMissingPart, "open part", path, err)
}

func PathEscape(path string) error {
	return E(KindPathEscape, "resolve path", path, New("path leaves the destination root"))
}

func Conflict(op, path, reason string) error {
	return E(KindConflict, op, path, New(reason))
}
