// Package reconcile merges freshly scraped offering outcomes with the
// persisted ledger and computes what changed between runs.
package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"ipoclerk/lib/ledger"
	"ipoclerk/lib/workflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/reconcile")

// Change is one reported difference for a single offering.
type Change struct {
	Record ledger.Record
	// PreviousQty is only meaningful for updated allotments.
	PreviousQty int64
}

// ChangeSet classifies every fresh record that differs from prior state.
// Unchanged records are not reported. Computed fresh each cycle, never
// persisted.
type ChangeSet struct {
	// NewItems are offerings never seen before for this account.
	NewItems []Change
	// NewAllotments are offerings that became alloted this cycle,
	// including never-seen offerings that arrive already alloted.
	NewAllotments []Change
	// UpdatedAllotments are offerings that stayed alloted but whose
	// alloted quantity changed.
	UpdatedAllotments []Change
}

func (c ChangeSet) Empty() bool {
	return len(c.NewItems) == 0 && len(c.NewAllotments) == 0 && len(c.UpdatedAllotments) == 0
}

// Selection partitions the offerings currently visible on the report
// listing into those needing a detail scrape and those reusable from the
// ledger.
type Selection struct {
	ToScrape []string
	Cached   []ledger.Record
}

// SelectItemsNeedingScrape decides, per visible offering, whether its
// detail page must be fetched. Finalized outcomes never change, so they
// are always served from prior state; everything else is re-checked.
func SelectItemsNeedingScrape(pageItems []string, prior []ledger.Record) Selection {
	byName := recordsByName(prior)

	var sel Selection
	for _, name := range pageItems {
		rec, seen := byName[name]
		if seen && rec.Finalized() {
			sel.Cached = append(sel.Cached, rec)
			continue
		}
		sel.ToScrape = append(sel.ToScrape, name)
	}
	return sel
}

// Merge combines prior and fresh records by offering name. Fresh always
// wins on collision regardless of timestamps. The result is sorted by
// name so persisted output is deterministic. Merging the same fresh
// batch twice yields the identical result.
func Merge(prior, fresh []ledger.Record) []ledger.Record {
	byName := recordsByName(prior)
	for _, rec := range fresh {
		byName[rec.Name] = rec
	}

	out := make([]ledger.Record, 0, len(byName))
	for _, rec := range byName {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Diff classifies each fresh record against the pre-merge prior state.
func Diff(prior, fresh []ledger.Record) ChangeSet {
	byName := recordsByName(prior)

	var changes ChangeSet
	for _, rec := range fresh {
		old, seen := byName[rec.Name]
		if !seen {
			changes.NewItems = append(changes.NewItems, Change{Record: rec})
			if rec.IsAlloted {
				changes.NewAllotments = append(changes.NewAllotments, Change{Record: rec})
			}
			continue
		}
		if !old.IsAlloted && rec.IsAlloted {
			changes.NewAllotments = append(changes.NewAllotments, Change{Record: rec})
			continue
		}
		if old.IsAlloted && rec.IsAlloted && old.AllotedQty != rec.AllotedQty {
			changes.UpdatedAllotments = append(changes.UpdatedAllotments, Change{
				Record:      rec,
				PreviousQty: old.AllotedQty,
			})
		}
	}
	return changes
}

func recordsByName(records []ledger.Record) map[string]ledger.Record {
	byName := make(map[string]ledger.Record, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}
	return byName
}

// Engine runs read-merge-diff-write cycles against the ledger. Accounts
// are processed one at a time upstream, so a cycle owns its account's row
// for its whole duration.
type Engine struct {
	store ledger.Store
}

func NewEngine(store ledger.Store) Engine {
	return Engine{store: store}
}

func (e Engine) Store() ledger.Store {
	return e.store
}

// Reconcile merges fresh records into the account's persisted state and
// returns the merged list plus the change-set against the prior state.
// A failed load degrades to empty prior state; a failed save is reported
// as a ledger-kind failure but the merged result is still returned.
func (e Engine) Reconcile(ctx context.Context, account string, fresh []ledger.Record) ([]ledger.Record, ChangeSet, error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", account),
		attribute.Int("fresh_records", len(fresh)),
	)

	prior, err := e.store.Load(ctx, account)
	if err != nil {
		// Load already degrades internally, this is belt and braces
		slog.WarnContext(ctx, "ledger load failed, starting from empty", "account", account, "err", err)
		prior = ledger.Snapshot{}
	}

	merged := Merge(prior.Items, fresh)
	changes := Diff(prior.Items, fresh)

	slog.InfoContext(ctx, "reconciled account",
		"account", account,
		"merged", len(merged),
		"new_items", len(changes.NewItems),
		"new_allotments", len(changes.NewAllotments),
		"updated_allotments", len(changes.UpdatedAllotments),
	)

	err = e.store.Save(ctx, account, merged)
	if err != nil {
		span.RecordError(err)
		return merged, changes, workflow.Wrap(workflow.KindLedger, "persist snapshot", err)
	}
	return merged, changes, nil
}
