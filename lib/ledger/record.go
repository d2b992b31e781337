package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one tracked offering's state for one account. Name is the
// unique key within an account's record set, a later record with the
// same name always supersedes an earlier one.
type Record struct {
	Name        string          `json:"name"`
	Group       string          `json:"group,omitempty"`
	Category    string          `json:"category,omitempty"`
	Status      string          `json:"status"`
	IsAlloted   bool            `json:"isAlloted"`
	AppliedQty  int64           `json:"appliedQty"`
	AllotedQty  int64           `json:"allotedQty"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedOn time.Time       `json:"submittedOn,omitempty"`
	OpensAt     time.Time       `json:"opensAt,omitempty"`
	ClosesAt    time.Time       `json:"closesAt,omitempty"`
	Bank        string          `json:"bank,omitempty"`
	Remarks     string          `json:"remarks,omitempty"`
	ScrapedAt   time.Time       `json:"scrapedAt"`
}

// the portal has used more than one phrasing for a terminal rejection
// over the years, all of them mean the status will never change again
var terminalStatuses = map[string]bool{
	"not alloted":  true,
	"not allotted": true,
	"rejected":     true,
}

// Finalized reports whether this record's status can no longer change on
// subsequent scrapes. Finalized records must never be re-fetched.
func (r Record) Finalized() bool {
	if r.IsAlloted {
		return true
	}
	return terminalStatuses[strings.ToLower(strings.TrimSpace(r.Status))]
}

// Snapshot is one account's persisted record set.
type Snapshot struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Items       []Record  `json:"items"`
}
