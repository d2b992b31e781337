package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies an account-level failure so callers can branch on the
// class of problem instead of matching message strings.
type Kind int

const (
	// KindInternal is the zero kind, anything unclassified.
	KindInternal Kind = iota
	// KindAuth covers rejected credentials or an invalidated session.
	KindAuth
	// KindTimeout covers a remote page that never reached the expected
	// state within its deadline.
	KindTimeout
	// KindNotFound covers a configured target offering absent from the
	// remote list, a configuration problem rather than a technical one.
	KindNotFound
	// KindValidation covers a local precondition failing before any
	// remote mutating action, e.g. a quantity below the declared minimum.
	KindValidation
	// KindScrape covers a failed extraction of one item's detail page.
	KindScrape
	// KindLedger covers a failed write to the outcome ledger.
	KindLedger
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindScrape:
		return "scrape"
	case KindLedger:
		return "ledger"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, KindInternal when it does not
// carry one.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindInternal
}

// Retryable reports whether a failure of this kind may succeed if the
// same step is attempted again. Only timeouts qualify, everything else
// either needs new configuration or already mutated remote state.
func Retryable(kind Kind) bool {
	return kind == KindTimeout
}
