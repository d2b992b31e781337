// Package workflow holds the account-level result and failure types shared
// by the portal scraper and the run orchestrator.
package workflow

import "time"

// ResultDetail carries the application parameters echoed back by a
// successful apply, purely informational.
type ResultDetail struct {
	Item        string `json:"item"`
	Quantity    int64  `json:"quantity"`
	Institution string `json:"institution"`
}

// Result is the outcome of one account's run. Immutable once produced.
type Result struct {
	Account string        `json:"account"`
	OK      bool          `json:"ok"`
	Message string        `json:"message"`
	Ref     string        `json:"ref,omitempty"`
	Time    time.Time     `json:"time"`
	Detail  *ResultDetail `json:"detail,omitempty"`
}

func Succeeded(account, message, ref string, at time.Time) Result {
	return Result{
		Account: account,
		OK:      true,
		Message: message,
		Ref:     ref,
		Time:    at,
	}
}

func Failed(account string, err error, at time.Time) Result {
	return Result{
		Account: account,
		OK:      false,
		Message: err.Error(),
		Time:    at,
	}
}
