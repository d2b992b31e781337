// Package webform drives one isolated browsing session against a remote
// site through form-level primitives. Callers never touch markup
// directly, they address fields and controls by CSS selector and the
// session keeps track of the current document and cookies.
package webform

import (
	"context"
	"fmt"
	"time"
)

var (
	// ErrWaitTimeout marks a page that never reached the expected state
	// within its deadline.
	ErrWaitTimeout = fmt.Errorf("wait condition not met before deadline")
	// ErrNoSuchField marks a selector that matched nothing on the
	// current document.
	ErrNoSuchField = fmt.Errorf("no such field on current page")
	// ErrSessionClosed marks use of a session after Close.
	ErrSessionClosed = fmt.Errorf("session is closed")
)

// Driver is the effectful remote-state accessor the workflows run
// against. One Driver instance serves exactly one account's session and
// is closed before the next account starts.
type Driver interface {
	// Navigate fetches a page. Relative paths resolve against the
	// session's base url.
	Navigate(ctx context.Context, path string) error
	// WaitFor blocks until selector matches on the (re-fetched) current
	// page or the timeout expires, in which case the returned error
	// wraps ErrWaitTimeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// ReadField returns the current value of a form field or the text
	// of any other element.
	ReadField(ctx context.Context, selector string) (string, error)
	// SetField stages a value for a form field. Staged values are
	// submitted by the next Click on a control of the same form.
	SetField(ctx context.Context, selector, value string) error
	// Click follows a link or submits the form enclosing a button.
	Click(ctx context.Context, selector string) error
	// Screenshot captures the current page under a label, best effort.
	Screenshot(ctx context.Context, label string) error
	Close() error
}
