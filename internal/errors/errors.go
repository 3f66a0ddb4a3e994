package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNoRecipients       = errors.New("no recipients")
	ErrLeaseLost          = errors.New("lease lost")
	ErrNotRequeueable     = errors.New("keepsake is not in error status")
	ErrUnsupportedAddress = errors.New("no channel can serve address")
)

// Kind classifies a failure so retry policy can be chosen by type.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// DeliveryError is a tagged failure raised while delivering a keepsake.
type DeliveryError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transient marks a failure that may succeed on a later run.
func Transient(op string, err error) error {
	return &DeliveryError{Kind: KindTransient, Op: op, Err: err}
}

// Permanent marks a failure that will never succeed for the same input.
func Permanent(op string, err error) error {
	return &DeliveryError{Kind: KindPermanent, Op: op, Err: err}
}

// Structural marks a problem with the keepsake itself, such as missing recipients.
func Structural(op string, err error) error {
	return &DeliveryError{Kind: KindStructural, Op: op, Err: err}
}

// KindOf returns the tag carried by err. Untagged errors count as transient.
func KindOf(err error) Kind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

func IsStructural(err error) bool {
	return err != nil && KindOf(err) == KindStructural
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
