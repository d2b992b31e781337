// Package runner iterates the configured accounts strictly in order,
// drives one workflow per account on an isolated session, and aggregates
// the per-account outcomes into a run result and exit status.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ipoclerk/lib/accounts"
	"ipoclerk/lib/ledger"
	"ipoclerk/lib/reconcile"
	"ipoclerk/lib/scrapers/meroshare"
	"ipoclerk/lib/timezone"
	"ipoclerk/lib/webform"
	"ipoclerk/lib/workflow"
)

var tracer = otel.Tracer("lib/runner")

type Mode string

const (
	ModeApply     Mode = "apply"
	ModeReconcile Mode = "reconcile"
)

// Client is the slice of the portal client the runner drives. Satisfied
// by *meroshare.Client.
type Client interface {
	Login(ctx context.Context, acct accounts.Account) error
	Apply(ctx context.Context, acct accounts.Account) (meroshare.Confirmation, error)
	FetchReportRows(ctx context.Context) ([]string, error)
	ScrapeDetail(ctx context.Context, name string) (ledger.Record, error)
}

// Notifier delivers the full result list somewhere external once per
// run. Best effort: its failure never alters the run outcome.
type Notifier interface {
	NotifyBatch(ctx context.Context, results []workflow.Result) error
}

type DriverFactory func(ctx context.Context) (webform.Driver, error)

type ClientFactory func(driver webform.Driver) Client

// DelayBounds configures the randomized pause between consecutive
// accounts, there to avoid hammering the portal in bursts.
type DelayBounds struct {
	Min time.Duration
	Max time.Duration
}

type Options struct {
	NewDriver DriverFactory
	// NewClient defaults to the meroshare client.
	NewClient ClientFactory
	// Engine must be set for ModeReconcile.
	Engine   reconcile.Engine
	Notifier Notifier
	Delay    DelayBounds
}

type Runner struct {
	opts Options
}

func New(opts Options) Runner {
	if opts.NewClient == nil {
		opts.NewClient = func(driver webform.Driver) Client {
			return meroshare.NewClient(driver, meroshare.ClientOptions{})
		}
	}
	return Runner{opts: opts}
}

// RunAll processes every account in input order and returns exactly one
// result per account, in the same order. A single account's failure
// never aborts the remaining accounts. Cancelling ctx stops the run
// before the next account starts.
func (r Runner) RunAll(ctx context.Context, accts []accounts.Account, mode Mode) []workflow.Result {
	ctx, span := tracer.Start(ctx, "RunAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("accounts", len(accts)),
	)

	results := make([]workflow.Result, 0, len(accts))
	for i, acct := range accts {
		slog.InfoContext(ctx, "starting account",
			"account", acct.Username,
			"mode", string(mode),
			"position", fmt.Sprintf("%d/%d", i+1, len(accts)),
		)

		res := r.runOne(ctx, acct, mode)
		if res.OK {
			slog.InfoContext(ctx, "account succeeded", "account", acct.Username, "message", res.Message, "ref", res.Ref)
		} else {
			slog.ErrorContext(ctx, "account failed", "account", acct.Username, "err", res.Message)
		}
		results = append(results, res)

		if i < len(accts)-1 {
			if !r.pause(ctx) {
				slog.WarnContext(ctx, "run cancelled, skipping remaining accounts", "completed", i+1)
				break
			}
		}
	}

	r.notify(ctx, results)
	return results
}

// runOne executes one account's workflow on a fresh session, converting
// every failure mode, including panics, into a failed result. The
// session is closed on every exit path.
func (r Runner) runOne(ctx context.Context, acct accounts.Account, mode Mode) (res workflow.Result) {
	ctx, span := tracer.Start(ctx, "runOne")
	defer span.End()
	span.SetAttributes(attribute.String("account", acct.Username))

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "workflow panicked", "account", acct.Username, "panic", p)
			res = workflow.Failed(acct.Username, fmt.Errorf("workflow panic: %v", p), timezone.Now())
		}
	}()

	driver, err := r.opts.NewDriver(ctx)
	if err != nil {
		return workflow.Failed(acct.Username, fmt.Errorf("acquire session: %w", err), timezone.Now())
	}
	defer func() {
		cerr := driver.Close()
		if cerr != nil {
			slog.WarnContext(ctx, "session close failed", "account", acct.Username, "err", cerr)
		}
	}()

	client := r.opts.NewClient(driver)

	switch mode {
	case ModeReconcile:
		return r.reconcileAccount(ctx, client, acct)
	default:
		return r.applyAccount(ctx, client, acct)
	}
}

func (r Runner) applyAccount(ctx context.Context, client Client, acct accounts.Account) workflow.Result {
	err := client.Login(ctx, acct)
	if err != nil {
		return workflow.Failed(acct.Username, err, timezone.Now())
	}

	conf, err := client.Apply(ctx, acct)
	if err != nil {
		return workflow.Failed(acct.Username, err, timezone.Now())
	}

	res := workflow.Succeeded(
		acct.Username,
		fmt.Sprintf("applied %d units to %q", acct.Quantity, acct.TargetItem),
		conf.Ref,
		timezone.Now(),
	)
	res.Detail = &workflow.ResultDetail{
		Item:        acct.TargetItem,
		Quantity:    acct.Quantity,
		Institution: acct.DP,
	}
	return res
}

// reconcileAccount scrapes only the offerings whose prior outcome could
// still change and merges them into the ledger. An individual item's
// scrape failure is logged and skipped; only failing to reach the report
// listing at all fails the account.
func (r Runner) reconcileAccount(ctx context.Context, client Client, acct accounts.Account) workflow.Result {
	err := client.Login(ctx, acct)
	if err != nil {
		return workflow.Failed(acct.Username, err, timezone.Now())
	}

	pageItems, err := client.FetchReportRows(ctx)
	if err != nil {
		return workflow.Failed(acct.Username, err, timezone.Now())
	}

	prior, err := r.opts.Engine.Store().Load(ctx, acct.Username)
	if err != nil {
		prior = ledger.Snapshot{}
	}
	sel := reconcile.SelectItemsNeedingScrape(pageItems, prior.Items)
	slog.InfoContext(ctx, "selected items to scrape",
		"account", acct.Username,
		"to_scrape", len(sel.ToScrape),
		"cached", len(sel.Cached),
	)

	var fresh []ledger.Record
	skipped := 0
	for _, name := range sel.ToScrape {
		rec, err := client.ScrapeDetail(ctx, name)
		if err != nil {
			slog.WarnContext(ctx, "item scrape failed, skipping", "account", acct.Username, "item", name, "err", err)
			skipped++
			continue
		}
		fresh = append(fresh, rec)
	}

	merged, changes, err := r.opts.Engine.Reconcile(ctx, acct.Username, fresh)
	if err != nil {
		return workflow.Failed(acct.Username, err, timezone.Now())
	}

	message := fmt.Sprintf(
		"reconciled %d records (%d scraped, %d cached, %d skipped): %d new, %d new allotments, %d updated allotments",
		len(merged), len(fresh), len(sel.Cached), skipped,
		len(changes.NewItems), len(changes.NewAllotments), len(changes.UpdatedAllotments),
	)
	return workflow.Succeeded(acct.Username, message, "", timezone.Now())
}

// pause sleeps a randomized interval between accounts. Returns false
// when the run was cancelled while waiting.
func (r Runner) pause(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if r.opts.Delay.Max <= 0 {
		return true
	}

	minMs := int(r.opts.Delay.Min / time.Millisecond)
	maxMs := int(r.opts.Delay.Max / time.Millisecond)
	delayMs := maxMs
	if maxMs > minMs {
		n, err := random.IntRange(minMs, maxMs)
		if err == nil {
			delayMs = n
		}
	}

	slog.DebugContext(ctx, "inter-account delay", "ms", delayMs)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(delayMs) * time.Millisecond):
		return true
	}
}

func (r Runner) notify(ctx context.Context, results []workflow.Result) {
	if r.opts.Notifier == nil || len(results) == 0 {
		return
	}
	err := r.opts.Notifier.NotifyBatch(ctx, results)
	if err != nil {
		slog.WarnContext(ctx, "batch notification failed", "err", err)
	}
}
