package meroshare

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"ipoclerk/lib/accounts"
	"ipoclerk/lib/textutil"
	"ipoclerk/lib/workflow"
)

const (
	selCompanyName = ".company-list .company-row:nth-child(%d) .company-name"
	selCompanyOpen = ".company-list .company-row:nth-child(%d) .btn-apply"
	selApplyForm   = "#apply-form"
	selMinQty      = "#min-qty"
	selAppliedQty  = "#applied-kitta"
	selCRN         = "#crn"
	selBank        = "#bank"
	selProceedBtn  = "#proceed"
	selConfirmPane = "#confirm-pane"
	selPIN         = "#transaction-pin"
	selSubmitBtn   = "#submit-apply"
	selSuccess     = ".alert-success"
	selRefNumber   = "#ref-number"
)

// names rendered by the portal rarely match the configured scrip exactly
// (casing, "Ltd." suffixes), anything above this similarity is accepted
const minNameSimilarity = 0.92

// Confirmation is what a completed two-phase submission echoes back.
type Confirmation struct {
	Ref string
}

// Apply runs the full apply-and-submit workflow for a logged-in account:
// locate the target offering, validate the configured quantity against
// the declared minimum, fill the form, then confirm with the PIN. The
// quantity check happens before any mutating click.
func (c *Client) Apply(ctx context.Context, acct accounts.Account) (Confirmation, error) {
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()

	err := c.driver.Navigate(ctx, "/asba/apply")
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "open offering list", err)
	}

	row, err := c.locateOffering(ctx, acct.TargetItem)
	if err != nil {
		return Confirmation{}, err
	}

	err = c.driver.Click(ctx, fmt.Sprintf(selCompanyOpen, row))
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "open application form", err)
	}
	err = c.driver.WaitFor(ctx, selApplyForm, c.opts.WaitTimeout)
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "wait for application form", err)
	}

	err = c.validateQuantity(ctx, acct)
	if err != nil {
		return Confirmation{}, err
	}

	err = c.fillApplication(ctx, acct)
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindInternal, "fill application form", err)
	}

	// phase 1: proceed to the confirmation pane
	err = c.driver.Click(ctx, selProceedBtn)
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "proceed to confirmation", err)
	}
	err = c.driver.WaitFor(ctx, selConfirmPane, c.opts.WaitTimeout)
	if err != nil {
		_ = c.driver.Screenshot(ctx, fmt.Sprintf("confirm-missing-%s", acct.Username))
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "wait for confirmation pane", err)
	}

	// phase 2: pin and final submission
	err = c.setField(ctx, selPIN, acct.PIN)
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindInternal, "enter transaction pin", err)
	}
	err = c.driver.Click(ctx, selSubmitBtn)
	if err != nil {
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "submit application", err)
	}
	err = c.driver.WaitFor(ctx, selSuccess, c.opts.WaitTimeout)
	if err != nil {
		if banner, berr := c.driver.ReadField(ctx, selErrorBanner); berr == nil && banner != "" {
			_ = c.driver.Screenshot(ctx, fmt.Sprintf("apply-rejected-%s", acct.Username))
			return Confirmation{}, workflow.Errorf(workflow.KindInternal, "submit application", "portal rejected submission: %s", banner)
		}
		_ = c.driver.Screenshot(ctx, fmt.Sprintf("apply-timeout-%s", acct.Username))
		return Confirmation{}, workflow.Wrap(workflow.KindTimeout, "wait for submission result", err)
	}

	ref, err := c.driver.ReadField(ctx, selRefNumber)
	if err != nil {
		// the application went through, a missing reference is not fatal
		slog.WarnContext(ctx, "submission confirmed but no reference found", "account", acct.Username)
		ref = ""
	}
	return Confirmation{Ref: ref}, nil
}

// locateOffering finds the 1-based row index of the target offering in
// the visible list, trying an exact (case-insensitive) match first and
// falling back to the closest fuzzy match above the similarity floor.
func (c *Client) locateOffering(ctx context.Context, target string) (int, error) {
	names, err := c.readRows(ctx, selCompanyName)
	if err != nil {
		return 0, workflow.Wrap(workflow.KindTimeout, "read offering list", err)
	}

	for i, name := range names {
		if textutil.SameName(name, target) {
			return i + 1, nil
		}
	}

	bestRow := 0
	bestSim := 0.0
	for i, name := range names {
		sim := matchr.JaroWinkler(textutil.NormalizeName(name), textutil.NormalizeName(target), false)
		if sim > bestSim {
			bestSim = sim
			bestRow = i + 1
		}
	}
	if bestSim >= minNameSimilarity {
		slog.WarnContext(ctx, "offering matched fuzzily",
			"target", target,
			"matched", names[bestRow-1],
			"similarity", bestSim,
		)
		return bestRow, nil
	}

	return 0, workflow.Errorf(
		workflow.KindNotFound,
		"locate offering",
		"%q is not in the current offering list (%d visible), check the configured target name",
		target, len(names),
	)
}

// validateQuantity fails fast when the configured quantity is below the
// minimum the form declares, before anything is submitted.
func (c *Client) validateQuantity(ctx context.Context, acct accounts.Account) error {
	raw, err := c.driver.ReadField(ctx, selMinQty)
	if err != nil {
		// no declared minimum on the form, nothing to validate against
		return nil
	}
	min, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		slog.WarnContext(ctx, "unparseable minimum quantity on form", "raw", raw)
		return nil
	}
	if acct.Quantity < min {
		return workflow.Errorf(
			workflow.KindValidation,
			"validate quantity",
			"configured quantity %d is below the declared minimum %d",
			acct.Quantity, min,
		)
	}
	return nil
}

func (c *Client) fillApplication(ctx context.Context, acct accounts.Account) error {
	err := c.setField(ctx, selAppliedQty, strconv.FormatInt(acct.Quantity, 10))
	if err != nil {
		return err
	}
	err = c.setField(ctx, selCRN, acct.CRN)
	if err != nil {
		return err
	}
	if acct.Bank != "" {
		err = c.selectOption(ctx, selBank, acct.Bank)
		if err != nil {
			return err
		}
	}
	return nil
}
