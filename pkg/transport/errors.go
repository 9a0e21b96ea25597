package transport

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
	ErrDecode    = errors.New("decode error")
)

// Kind classifies an exchange failure.
type Kind int

const (
	KindTransport Kind = iota
	KindProtocol
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every failed exchange.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindProtocol && e.Err == nil:
		return fmt.Sprintf("%s error: unexpected status %d", e.Kind, e.StatusCode)
	case e.Kind == KindProtocol:
		return fmt.Sprintf("%s error: unexpected status %d: %v", e.Kind, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// KindOf returns the kind of err and whether it is an exchange error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
