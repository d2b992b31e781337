package meroshare

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ipoclerk/lib/ledger"
	"ipoclerk/lib/textutil"
	"ipoclerk/lib/timezone"
	"ipoclerk/lib/workflow"
)

const (
	selReportName   = ".report-list .report-row:nth-child(%d) .report-name"
	selReportDetail = ".report-list .report-row:nth-child(%d) .view-detail"

	selDetailPane    = "#detail"
	selDetailGroup   = "#item-group"
	selDetailCat     = "#item-category"
	selDetailStat    = "#status"
	selDetailApplied = "#applied-kitta-detail"
	selDetailAlloted = "#alloted-kitta-detail"
	selDetailAmount  = "#amount"
	selDetailSubmit  = "#submitted-on"
	selDetailOpens   = "#opens-at"
	selDetailCloses  = "#closes-at"
	selDetailBank    = "#bank-detail"
	selDetailRemarks = "#remarks"
)

// FetchReportRows opens the application report and returns the offering
// names currently visible, in page order. Failing to reach the listing
// at all is fatal for this account's reconciliation pass.
func (c *Client) FetchReportRows(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "FetchReportRows")
	defer span.End()

	err := c.driver.Navigate(ctx, "/asba/reports")
	if err != nil {
		return nil, workflow.Wrap(workflow.KindTimeout, "open application report", err)
	}
	err = c.driver.WaitFor(ctx, ".report-list", c.opts.WaitTimeout)
	if err != nil {
		return nil, workflow.Wrap(workflow.KindTimeout, "wait for application report", err)
	}

	names, err := c.readRows(ctx, selReportName)
	if err != nil {
		return nil, workflow.Wrap(workflow.KindTimeout, "read application report", err)
	}
	return names, nil
}

// ScrapeDetail extracts one offering's full outcome record from its
// detail page and navigates back to the report afterwards. The caller
// treats a failure here as recoverable and moves on to the next item.
func (c *Client) ScrapeDetail(ctx context.Context, name string) (ledger.Record, error) {
	ctx, span := tracer.Start(ctx, "ScrapeDetail")
	defer span.End()

	names, err := c.readRows(ctx, selReportName)
	if err != nil {
		return ledger.Record{}, workflow.Wrap(workflow.KindScrape, "read report rows", err)
	}
	row := 0
	for i, n := range names {
		if textutil.SameName(n, name) {
			row = i + 1
			break
		}
	}
	if row == 0 {
		return ledger.Record{}, workflow.Errorf(workflow.KindScrape, "locate report row", "%q disappeared from the report", name)
	}

	err = c.driver.Click(ctx, fmt.Sprintf(selReportDetail, row))
	if err != nil {
		return ledger.Record{}, workflow.Wrap(workflow.KindScrape, "open detail page", err)
	}
	err = c.driver.WaitFor(ctx, selDetailPane, c.opts.WaitTimeout)
	if err != nil {
		return ledger.Record{}, workflow.Wrap(workflow.KindScrape, "wait for detail page", err)
	}

	rec := c.readDetail(ctx, name)

	// back to the listing for the next item; a failure here surfaces on
	// the next row read instead
	_ = c.driver.Navigate(ctx, "/asba/reports")

	return rec, nil
}

// readDetail reads every known field off the detail pane. Individual
// fields are optional, the portal omits several of them until an
// outcome is final.
func (c *Client) readDetail(ctx context.Context, name string) ledger.Record {
	rec := ledger.Record{
		Name:      name,
		ScrapedAt: timezone.Now(),
	}

	rec.Group = c.text(ctx, selDetailGroup)
	rec.Category = c.text(ctx, selDetailCat)
	rec.Status = c.text(ctx, selDetailStat)
	rec.Bank = c.text(ctx, selDetailBank)
	rec.Remarks = c.text(ctx, selDetailRemarks)

	rec.AppliedQty = c.integer(ctx, selDetailApplied)
	rec.AllotedQty = c.integer(ctx, selDetailAlloted)
	rec.IsAlloted = rec.AllotedQty > 0 ||
		strings.HasPrefix(strings.ToLower(rec.Status), "allot") && !strings.Contains(strings.ToLower(rec.Status), "not")

	if raw := c.text(ctx, selDetailAmount); raw != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err == nil {
			rec.Amount = amount
		}
	}

	if t, err := timezone.ParseDate(c.text(ctx, selDetailSubmit)); err == nil {
		rec.SubmittedOn = t
	}
	if t, err := timezone.ParseDate(c.text(ctx, selDetailOpens)); err == nil {
		rec.OpensAt = t
	}
	if t, err := timezone.ParseDate(c.text(ctx, selDetailCloses)); err == nil {
		rec.ClosesAt = t
	}

	return rec
}

func (c *Client) text(ctx context.Context, selector string) string {
	value, err := c.driver.ReadField(ctx, selector)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func (c *Client) integer(ctx context.Context, selector string) int64 {
	n, err := strconv.ParseInt(c.text(ctx, selector), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
